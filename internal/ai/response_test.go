package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

func testEntries(n int) []TaskEntry {
	entries := make([]TaskEntry, n)
	for i := range entries {
		entries[i] = TaskEntry{Key: fmt.Sprintf("task-%d", i), ClusterIndex: 10 + i}
	}
	return entries
}

func TestParseValidDecisions(t *testing.T) {
	payload := "```json\n" + `{"decisions": [
		{"index": 0, "action": "merge", "merged_title": "Submit Q3 report", "rationale": "Most complete", "comment": "merged"},
		{"index": 1, "action": "DELETE"},
		{"index": 2, "action": "Move:Errands"},
		{"index": 3, "action": "move", "target_list": "Home", "rationale": "` + strings.Repeat("r", 300) + `"}
	]}` + "\n```"

	decisions, diagnostics := NewResponseParser().Parse(payload, testEntries(4))
	assert.Empty(t, diagnostics)
	require.Len(t, decisions, 4)

	merge := decisions["task-0"]
	assert.Equal(t, types.ActionMerge, merge.Action())
	assert.Equal(t, "Submit Q3 report", merge.MergedTitle)
	assert.Equal(t, 10, merge.ClusterIndex, "cluster index comes from the entry, not the prompt index")
	assert.Equal(t, types.SourceAI, merge.Source)
	assert.Equal(t, "Most complete", merge.Rationale)
	assert.Equal(t, "merged", merge.Comment)

	del := decisions["task-1"]
	assert.Equal(t, "delete", del.RawAction)
	assert.Equal(t, types.ActionDelete, del.Action())
	assert.NotEmpty(t, del.Rationale, "blank rationale gets a default")
	assert.NotEmpty(t, del.Comment, "blank comment gets a default")

	move := decisions["task-2"]
	assert.Equal(t, types.ActionMove, move.Action())
	assert.Equal(t, "Errands", move.TargetList)

	long := decisions["task-3"]
	assert.Equal(t, "Home", long.TargetList)
	assert.Len(t, []rune(long.Rationale), types.MaxRationaleLength)
	assert.True(t, strings.HasSuffix(long.Rationale, "…"))

	for key, d := range decisions {
		assert.NoError(t, d.Validate(), "decision %s", key)
		assert.LessOrEqual(t, len([]rune(d.Comment)), types.MaxCommentLength)
	}
}

func TestParseMergeWithoutTitle(t *testing.T) {
	payload := `{"decisions": [{"index": 0, "action": "merge"}, {"index": 1, "action": "delete"}]}`

	decisions, diagnostics := NewResponseParser().Parse(payload, testEntries(2))
	require.Len(t, diagnostics, 1)
	assert.Contains(t, diagnostics[0], "index 0")
	assert.Contains(t, diagnostics[0], "merged_title")

	require.Len(t, decisions, 1)
	assert.Equal(t, types.ActionDelete, decisions["task-1"].Action())
}

func TestParseFatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", "I think these are duplicates", "invalid JSON"},
		{"empty", "", "invalid JSON"},
		{"array at top level", `[{"index": 0}]`, "invalid JSON"},
		{"missing decisions", `{"result": []}`, "no decisions"},
		{"decisions not array", `{"decisions": {"index": 0}}`, "must be an array, got object"},
		{"model error", `{"error": "context too long"}`, "context too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions, diagnostics := NewResponseParser().Parse(tt.payload, testEntries(2))
			assert.NotNil(t, decisions)
			assert.Empty(t, decisions)
			require.Len(t, diagnostics, 1)
			assert.Contains(t, diagnostics[0], tt.want)
		})
	}
}

func TestParseFencedWithAnyTag(t *testing.T) {
	body := `{"decisions": [{"index": 0, "action": "keep"}, {"index": 1, "action": "delete"}]}`
	for _, tag := range []string{"json", "JSON", "Json", "text", ""} {
		t.Run("tag "+tag, func(t *testing.T) {
			decisions, diagnostics := NewResponseParser().Parse("```"+tag+"\n"+body+"\n```", testEntries(2))
			assert.Empty(t, diagnostics)
			assert.Len(t, decisions, 2)
		})
	}
}

func TestParseMoveListPrecedence(t *testing.T) {
	payload := `{"decisions": [
		{"index": 0, "action": "move:Work", "target_list": "Home"},
		{"index": 1, "action": "move:Errands", "target_list": "errands"},
		{"index": 2, "action": "move:", "target_list": "Home"}
	]}`

	decisions, diagnostics := NewResponseParser().Parse(payload, testEntries(3))
	require.Len(t, decisions, 3)
	assert.Equal(t, "Work", decisions["task-0"].TargetList, "the list in the action wins")
	assert.Equal(t, "Errands", decisions["task-1"].TargetList)
	assert.Equal(t, "Home", decisions["task-2"].TargetList, "target_list fills an empty action list")

	require.Len(t, diagnostics, 1, "only a real disagreement is reported")
	assert.Contains(t, diagnostics[0], "index 0")
	assert.Contains(t, diagnostics[0], `target_list is "Home"`)
}

func TestParseSkipsBadEntries(t *testing.T) {
	payload := `{"decisions": [
		"keep",
		{"action": "keep"},
		{"index": "1", "action": "keep"},
		{"index": 1.0, "action": "keep"},
		{"index": true, "action": "keep"},
		{"index": -1, "action": "keep"},
		{"index": 3, "action": "keep"},
		{"index": 0, "action": "archive"},
		{"index": 0, "action": "keep"},
		{"index": 1, "action": ""},
		{"index": 2, "action": "move"},
		{"index": 2, "action": "move", "target_list": "Home"}
	]}`

	decisions, diagnostics := NewResponseParser().Parse(payload, testEntries(3))
	assert.Len(t, diagnostics, 12)
	assert.Empty(t, decisions, "every index was consumed by an invalid decision")
}

func TestParseDuplicateIndexKeepsFirst(t *testing.T) {
	payload := `{"decisions": [{"index": 0, "action": "keep"}, {"index": 0, "action": "delete"}]}`

	decisions, diagnostics := NewResponseParser().Parse(payload, testEntries(1))
	require.Len(t, diagnostics, 1)
	assert.Contains(t, diagnostics[0], "already decided")
	assert.Equal(t, types.ActionKeep, decisions["task-0"].Action())
}

func TestParseUsesRecordKeyWhenEntryHasNone(t *testing.T) {
	entries := []TaskEntry{{ClusterIndex: 4, Record: types.FromMap(map[string]any{"id": "graph-id"})}}
	decisions, diagnostics := NewResponseParser().Parse(`{"decisions": [{"index": 0, "action": "keep"}]}`, entries)
	assert.Empty(t, diagnostics)
	require.Contains(t, decisions, "graph-id")
	assert.Equal(t, 4, decisions["graph-id"].ClusterIndex)
}

func TestParseNeverPanics(t *testing.T) {
	payloads := []string{
		"null", "{}", `{"decisions": null}`, `{"decisions": [null]}`,
		`{"decisions": [{"index": 99999999999999999999, "action": "keep"}]}`,
		`{"decisions": [{"index": 0, "action": 5, "merged_title": 3}]}`,
		"```", "```json\n```", `{"decisions": []} trailing`,
	}
	for _, p := range payloads {
		assert.NotPanics(t, func() {
			decisions, _ := NewResponseParser().Parse(p, testEntries(1))
			assert.NotNil(t, decisions)
		}, p)
	}
}

func TestParseEveryValidDecisionSurvives(t *testing.T) {
	const n = 25
	actions := []string{"keep", "delete", "merge", "move"}

	var items []map[string]any
	for i := 0; i < n; i++ {
		item := map[string]any{"index": i, "action": actions[i%len(actions)]}
		switch actions[i%len(actions)] {
		case "merge":
			item["merged_title"] = fmt.Sprintf("Merged %d", i)
		case "move":
			item["target_list"] = "Archive"
		}
		items = append(items, item)
	}
	payload, err := json.Marshal(map[string]any{"decisions": items})
	require.NoError(t, err)

	decisions, diagnostics := NewResponseParser().Parse(string(payload), testEntries(n))
	assert.Empty(t, diagnostics)
	require.Len(t, decisions, n)
	for i := 0; i < n; i++ {
		d := decisions[fmt.Sprintf("task-%d", i)]
		require.NotNil(t, d)
		assert.Equal(t, types.Action(actions[i%len(actions)]), d.Action())
		assert.Equal(t, 10+i, d.ClusterIndex)
	}
}
