package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/Auriora/admin-assistant-sub002/internal/ai"
	"github.com/Auriora/admin-assistant-sub002/internal/cost"
	"github.com/Auriora/admin-assistant-sub002/internal/deduplication"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func testTasks() []*types.Task {
	return []*types.Task{
		{TaskID: "a", ListID: "l1", ListName: "Tasks", Title: "Pay rent"},
		{TaskID: "b", ListID: "l2", ListName: "Home", Title: "pay rent"},
		{TaskID: "c", ListID: "l1", ListName: "Tasks", Title: "Book dentist"},
	}
}

func TestPrintClusters(t *testing.T) {
	var buf bytes.Buffer
	printClusters(&buf, testTasks(), []types.TaskCluster{
		{ClusterID: 1, Indices: []int{0, 1}},
		{ClusterID: 2, Indices: []int{2}},
	})

	out := buf.String()
	for _, want := range []string{
		"=== 3 tasks, 2 clusters (1 with duplicates) ===",
		"Cluster 1 (2)",
		"[1] pay rent (Home)",
		"[2] Book dentist (Tasks)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResult(t *testing.T) {
	canonical := 1
	result := &deduplication.Result{
		Decisions: map[string]*types.DedupDecision{
			"a": {TaskKey: "a", ClusterIndex: 0, RawAction: "delete", Source: types.SourceAuto,
				Rationale: `Exact duplicate of "pay rent" in Home`, CanonicalClusterIndex: &canonical, CanonicalRowIndex: &canonical, CanonicalList: "Home"},
			"b": {TaskKey: "b", ClusterIndex: 1, RawAction: "keep", Source: types.SourceAuto},
			"c": {TaskKey: "c", ClusterIndex: 2, RawAction: "move:Home", TargetList: "Home", Source: types.SourceAI},
		},
		Diagnostics: []string{"cluster 2: model returned no decision for index 1 (d)"},
		Stats:       deduplication.Stats{Clusters: 2, AutoResolvedClusters: 1, ModelCalls: 1, AutoDecisions: 2, AIDecisions: 1},
	}

	var buf bytes.Buffer
	printResult(&buf, testTasks(), result)
	out := buf.String()

	for _, want := range []string{
		"DELETE Pay rent [auto]",
		"duplicate of #1 in Home",
		"KEEP   pay rent [auto]",
		"MOVE   Book dentist [ai]",
		"→ Home",
		"model returned no decision for index 1 (d)",
		"Clusters:    2 (1 resolved without the model)",
		"Actions:     keep 1, delete 1, merge 0, move 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Pay rent") > strings.Index(out, "Book dentist") {
		t.Errorf("decisions should be printed in task order:\n%s", out)
	}
}

func TestDecisionDetail(t *testing.T) {
	tests := []struct {
		name string
		d    *types.DedupDecision
		want string
	}{
		{"merge", &types.DedupDecision{RawAction: "merge", MergedTitle: "Pay May rent"}, `→ "Pay May rent"`},
		{"move", &types.DedupDecision{RawAction: "move", TargetList: "Work"}, "→ Work"},
		{"plain keep", &types.DedupDecision{RawAction: "keep"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decisionDetail(tt.d); got != tt.want {
				t.Errorf("decisionDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintBatchOutput(t *testing.T) {
	record := &ai.BatchRecord{ID: "batch_1", Status: ai.BatchStatusCompleted, Endpoint: "/v1/chat/completions", OutputFileID: "file-out"}

	var buf bytes.Buffer
	printBatchResults(&buf, record, map[string]ai.BatchResult{
		"cluster-2": {CustomID: "cluster-2", Error: "rate limited"},
		"cluster-1": {CustomID: "cluster-1", StatusCode: 200, Content: `{"decisions": []}`},
	})
	out := buf.String()
	if !strings.Contains(out, "Total: 2 results, 1 failed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if strings.Index(out, "cluster-1") > strings.Index(out, "cluster-2") {
		t.Errorf("results should be sorted by id:\n%s", out)
	}

	buf.Reset()
	printBatchStatus(&buf, nil, record)
	if !strings.Contains(buf.String(), "No local state file") {
		t.Errorf("missing state notice:\n%s", buf.String())
	}

	buf.Reset()
	printBatchStatus(&buf, &ai.BatchState{BatchID: "batch_1", Status: "in_progress", InputFilePath: "batch_jobs/x.jsonl", InputFileID: "file-in"}, record)
	if !strings.Contains(buf.String(), "batch_jobs/x.jsonl (file-in)") {
		t.Errorf("missing state details:\n%s", buf.String())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("fuzzy_score_threshold: 90\ndedup_model: gpt-4o\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	original := configPath
	configPath = path
	defer func() { configPath = original }()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.FuzzyScoreThreshold != 90 || cfg.DedupModel != "gpt-4o" {
		t.Errorf("loadConfig() = %s", cfg)
	}
}

func TestPrintBudget(t *testing.T) {
	cfg := cost.DefaultConfig()
	cfg.MaxTokensPerHour = 1000
	stats := cost.BudgetStats{
		Status:           cost.BudgetWarning,
		HourlyTokensUsed: 850,
		TotalTokensUsed:  12_500,
		JobTokensUsed:    map[string]int64{"cluster-2": 500, "cluster-1": 350},
		WindowStartTime:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	printBudget(&buf, cfg, stats)
	out := buf.String()
	for _, want := range []string{"Status: WARNING", "850 / 1.0K (85.0%)", "09:00:00 → 10:00:00", "Tokens:  12.5K"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "cluster-1") > strings.Index(out, "cluster-2") {
		t.Errorf("jobs should be sorted by id:\n%s", out)
	}
}

func TestFormatTokens(t *testing.T) {
	tests := map[int64]string{999: "999", 1500: "1.5K", 2_500_000: "2.50M"}
	for tokens, want := range tests {
		if got := formatTokens(tokens); got != want {
			t.Errorf("formatTokens(%d) = %q, want %q", tokens, got, want)
		}
	}
}
