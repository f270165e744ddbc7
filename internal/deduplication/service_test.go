package deduplication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auriora/admin-assistant-sub002/internal/ai"
	"github.com/Auriora/admin-assistant-sub002/internal/config"
	"github.com/Auriora/admin-assistant-sub002/internal/cost"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// fakeInvoker answers jobs from a fixed map and records what it was asked
type fakeInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
	calls   int
	jobs    []ai.PromptJob
}

func (f *fakeInvoker) Invoke(ctx context.Context, jobs []ai.PromptJob) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.jobs = append(f.jobs, jobs...)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, job := range jobs {
		if reply, ok := f.replies[job.ID]; ok {
			out[job.ID] = reply
		}
	}
	return out, nil
}

// recordingTracer keeps the outcome of every cluster span
type recordingTracer struct {
	mu       sync.Mutex
	started  []int
	outcomes []string
}

func (r *recordingTracer) StartCluster(ctx context.Context, cluster types.TaskCluster) func(string, error) {
	r.mu.Lock()
	r.started = append(r.started, cluster.ClusterID)
	r.mu.Unlock()
	return func(outcome string, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outcomes = append(r.outcomes, fmt.Sprintf("%d:%s", cluster.ClusterID, outcome))
	}
}

func newTestService(t *testing.T, invoker ai.Invoker, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(config.DefaultConfig(), append([]Option{WithInvoker(invoker)}, opts...)...)
	require.NoError(t, err)
	return svc
}

func TestNewServiceConstruction(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewService(cfg)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	cfg.APIKey = "sk-test"
	svc, err := NewService(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.SyncInvoker{}, svc.invoker)

	unknown := cfg
	unknown.Provider = "mystery"
	_, err = NewService(unknown)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	batch := cfg
	batch.BatchEnabled = true
	svc, err = NewService(batch)
	require.NoError(t, err)
	assert.IsType(t, &ai.BatchInvoker{}, svc.invoker)

	batch.Provider = config.ProviderAnthropic
	_, err = NewService(batch)
	assert.ErrorIs(t, err, ErrUnsupportedProvider, "anthropic has no batch support here")

	// Injected collaborators need no credentials
	_, err = NewService(config.DefaultConfig(), WithChatClient(nil), WithInvoker(&fakeInvoker{}))
	require.NoError(t, err)
}

func TestProcessScenarioAutoKeepWithoutModel(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Pay rent", "Tasks"),
		task("t1", "pay rent", "Home"),
	})
	invoker := &fakeInvoker{}
	svc := newTestService(t, invoker)

	result, err := svc.Process(context.Background(), records, []types.TaskCluster{{ClusterID: 1, Indices: []int{0, 1}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, invoker.calls, "nothing left for the model")
	require.Len(t, result.Decisions, 2)

	assert.Equal(t, types.ActionDelete, result.Decisions["t0"].Action())
	keep := result.Decisions["t1"]
	assert.Equal(t, types.ActionKeep, keep.Action())
	assert.Equal(t, types.SourceAuto, keep.Source)
	assert.Equal(t, 1, keep.ClusterID)
	assert.Equal(t, 2, keep.ClusterSize)

	assert.Equal(t, 1, result.Stats.AutoResolvedClusters)
	assert.Equal(t, 0, result.Stats.ModelCalls)
	assert.NoError(t, result.Validate())
}

func TestProcessAsksModelForAmbiguousClusters(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
		task("t2", "Unrelated task", "Tasks"),
	})
	invoker := &fakeInvoker{replies: map[string]string{
		"cluster-1": "```json\n" + `{"decisions": [{"index": 0, "action": "keep", "rationale": "more specific list"}, {"index": 1, "action": "delete"}]}` + "\n```",
	}}
	tracer := &recordingTracer{}
	svc := newTestService(t, invoker, WithTracer(tracer))

	result, err := svc.Deduplicate(context.Background(), records, []string{"Work", "Tasks"})
	require.NoError(t, err)
	assert.Empty(t, result.Diagnostics)

	require.Len(t, invoker.jobs, 1)
	job := invoker.jobs[0]
	assert.Equal(t, "cluster-1", job.ID)
	assert.Equal(t, ai.SystemPrompt, job.System)
	assert.Contains(t, job.Prompt, "Submit report")
	assert.Contains(t, job.Prompt, "submit report pls")
	assert.NotContains(t, job.Prompt, "Unrelated task")

	require.Len(t, result.Decisions, 3)
	assert.Equal(t, types.ActionKeep, result.Decisions["t0"].Action())
	assert.Equal(t, types.SourceAI, result.Decisions["t0"].Source)
	del := result.Decisions["t1"]
	assert.Equal(t, types.ActionDelete, del.Action())
	assert.Equal(t, 1, del.ClusterID)
	assert.Equal(t, 2, del.ClusterSize)
	assert.Equal(t, 1, del.ClusterIndex)

	single := result.Decisions["t2"]
	assert.Equal(t, types.SourceAuto, single.Source)
	assert.Equal(t, 2, single.ClusterID)
	assert.Equal(t, 1, single.ClusterSize)

	assert.Equal(t, Stats{Clusters: 2, AutoResolvedClusters: 1, ModelCalls: 1, AutoDecisions: 1, AIDecisions: 2}, withoutTime(result.Stats))
	assert.NoError(t, result.Validate())
	assert.Equal(t, []string{"1:model", "2:auto"}, tracer.outcomes)
}

func TestProcessMapsModelIndicesBackToTasks(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Pay rent", "Tasks"),
		task("t1", "pay rent", "Home"),
		task("t2", "Pay rent for May", "Home"),
	})
	invoker := &fakeInvoker{replies: map[string]string{
		"cluster-7": `{"decisions": [{"index": 0, "action": "delete"}, {"index": 1, "action": "merge", "merged_title": "Pay rent (May)"}]}`,
	}}
	svc := newTestService(t, invoker)

	decisions, err := svc.ProcessClusters(context.Background(), records, []types.TaskCluster{{ClusterID: 7, Indices: []int{0, 1, 2}}}, []string{"Home"})
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	exact := decisions["t0"]
	assert.Equal(t, types.SourceAuto, exact.Source)
	assert.Equal(t, 1, *exact.CanonicalClusterIndex)

	// The model saw only t1 and t2, as indices 0 and 1
	assert.Equal(t, types.ActionDelete, decisions["t1"].Action())
	assert.Equal(t, 1, decisions["t1"].ClusterIndex)
	merge := decisions["t2"]
	assert.Equal(t, types.ActionMerge, merge.Action())
	assert.Equal(t, 2, merge.ClusterIndex)
	assert.Equal(t, "Pay rent (May)", merge.MergedTitle)
	assert.Equal(t, 3, merge.ClusterSize)

	require.Len(t, invoker.jobs, 1)
	assert.Equal(t, 1, strings.Count(invoker.jobs[0].Prompt, "Pay rent for May"))
	assert.Equal(t, 1, strings.Count(invoker.jobs[0].Prompt, `"title": "pay rent"`))
	assert.NotContains(t, invoker.jobs[0].Prompt, `"title": "Pay rent"`, "exact duplicates are not sent")
}

func TestProcessCollectsDiagnostics(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
		task("t2", "Book dentist", "Tasks"),
		task("t3", "book the dentist", "Tasks"),
	})
	invoker := &fakeInvoker{replies: map[string]string{
		"cluster-1": `{"decisions": [{"index": 0, "action": "merge", "rationale": "dup"}, {"index": 1, "action": "delete"}]}`,
		"cluster-2": `{"decisions": [{"index": 1, "action": "keep"}]}`,
	}}
	svc := newTestService(t, invoker)

	clusters := []types.TaskCluster{
		{ClusterID: 1, Indices: []int{0, 1}},
		{ClusterID: 2, Indices: []int{2, 3, 99}},
	}
	result, err := svc.Process(context.Background(), records, clusters, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cluster 2: index 99 is outside the task list",
		"cluster 1: decision at index 0: merge requires merged_title",
		"cluster 2: model returned no decision for index 0 (t2)",
	}, result.Diagnostics)

	assert.NotContains(t, result.Decisions, "t0")
	assert.NotContains(t, result.Decisions, "t2")
	assert.Contains(t, result.Decisions, "t1")
	assert.Contains(t, result.Decisions, "t3")
	assert.NoError(t, result.Validate())
}

func TestProcessFirstDecisionWins(t *testing.T) {
	records := types.FromTasks([]*types.Task{task("t0", "Pay rent", "Tasks")})
	svc := newTestService(t, &fakeInvoker{})

	clusters := []types.TaskCluster{{ClusterID: 1, Indices: []int{0}}, {ClusterID: 2, Indices: []int{0}}}
	result, err := svc.Process(context.Background(), records, clusters, nil)
	require.NoError(t, err)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, 1, result.Decisions["t0"].ClusterID)
	assert.Equal(t, 1, result.Stats.Collisions)
}

func TestProcessModelErrors(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
	})
	clusters := []types.TaskCluster{{ClusterID: 1, Indices: []int{0, 1}}}

	boom := errors.New("connection reset")
	tracer := &recordingTracer{}
	svc := newTestService(t, &fakeInvoker{err: boom}, WithTracer(tracer))
	_, err := svc.Process(context.Background(), records, clusters, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"1:error"}, tracer.outcomes)

	svc = newTestService(t, &fakeInvoker{replies: map[string]string{}})
	_, err = svc.Process(context.Background(), records, clusters, nil)
	assert.ErrorIs(t, err, ai.ErrNoContent)

	svc = newTestService(t, &fakeInvoker{replies: map[string]string{"cluster-1": "  \n"}})
	_, err = svc.ProcessClusters(context.Background(), records, clusters, nil)
	assert.ErrorIs(t, err, ai.ErrNoContent)
}

func TestProcessWithChatClient(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
	})
	client := &fakeChatClient{reply: `{"decisions": [{"index": 0, "action": "keep"}, {"index": 1, "action": "move:Work"}]}`}

	cfg := config.DefaultConfig()
	cfg.DedupModel = "gpt-5-mini"
	cfg.DedupMaxCompletionTokens = 1234
	svc, err := NewService(cfg, WithChatClient(client))
	require.NoError(t, err)

	decisions, err := svc.ProcessClusters(context.Background(), records, []types.TaskCluster{{ClusterID: 1, Indices: []int{0, 1}}}, []string{"Work"})
	require.NoError(t, err)
	assert.Equal(t, "Work", decisions["t1"].TargetList)

	require.Len(t, client.requests, 1)
	assert.Equal(t, "gpt-5-mini", client.requests[0].Model)
	assert.Equal(t, 1234, client.requests[0].MaxTokens)
}

func TestProcessPacesModelCalls(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"), task("t1", "submit report pls", "Tasks"),
		task("t2", "Book dentist", "Home"), task("t3", "book dentist appt", "Tasks"),
		task("t4", "Renew passport", "Home"), task("t5", "renew passport soon", "Tasks"),
	})
	clusters := []types.TaskCluster{
		{ClusterID: 1, Indices: []int{0, 1}},
		{ClusterID: 2, Indices: []int{2, 3}},
		{ClusterID: 3, Indices: []int{4, 5}},
	}
	client := &fakeChatClient{reply: `{"decisions": [{"index": 0, "action": "keep"}, {"index": 1, "action": "delete"}]}`}

	cfg := config.DefaultConfig()
	cfg.DedupRequestsPerSecond = 20 // one call every 50ms after the first
	svc, err := NewService(cfg, WithChatClient(client))
	require.NoError(t, err)

	start := time.Now()
	result, err := svc.Process(context.Background(), records, clusters, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond, "three calls at 20/s take at least 100ms")
	assert.Len(t, client.requests, 3)
	assert.Len(t, result.Decisions, 6)
}

func TestProcessRespectsBudget(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
	})
	budgetCfg := cost.DefaultConfig()
	budgetCfg.Enabled = true
	budgetCfg.MaxTokensPerHour = 100
	budgetCfg.PersistStatePath = ""
	tracker, err := cost.NewTracker(budgetCfg, nil)
	require.NoError(t, err)
	tracker.RecordUsage("earlier-run", 90, 10)

	client := &fakeChatClient{reply: `{"decisions": []}`}
	svc, err := NewService(config.DefaultConfig(), WithChatClient(client), WithBudget(tracker))
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), records, []types.TaskCluster{{ClusterID: 1, Indices: []int{0, 1}}}, nil)
	assert.ErrorIs(t, err, ai.ErrBudgetExceeded)
	assert.Empty(t, client.requests)
}

// stubBatchAPI completes every batch at once with a fixed output file
type stubBatchAPI struct {
	output string
}

func (s *stubBatchAPI) UploadFile(ctx context.Context, path string) (string, error) {
	return "file-in", nil
}

func (s *stubBatchAPI) CreateBatch(ctx context.Context, inputFileID string, endpoint ai.Endpoint, window string, metadata map[string]string) (*ai.BatchRecord, error) {
	return &ai.BatchRecord{ID: "batch_1", Status: ai.BatchStatusValidating, Endpoint: string(endpoint), InputFileID: inputFileID}, nil
}

func (s *stubBatchAPI) RetrieveBatch(ctx context.Context, batchID string) (*ai.BatchRecord, error) {
	return &ai.BatchRecord{ID: batchID, Status: ai.BatchStatusCompleted, OutputFileID: "file-out"}, nil
}

func (s *stubBatchAPI) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	return []byte(s.output), nil
}

func TestProcessBatchMode(t *testing.T) {
	records := types.FromTasks([]*types.Task{
		task("t0", "Submit report", "Work"),
		task("t1", "submit report pls", "Tasks"),
	})
	api := &stubBatchAPI{output: `{"custom_id": "cluster-1", "response": {"status_code": 200, "body": {"choices": [{"message": {"content": "{\"decisions\": [{\"index\": 0, \"action\": \"keep\"}, {\"index\": 1, \"action\": \"delete\"}]}"}}]}}}` + "\n"}

	cfg := config.DefaultConfig()
	cfg.BatchEnabled = true
	cfg.BatchDir = t.TempDir()
	svc, err := NewService(cfg, WithBatchAPI(api))
	require.NoError(t, err)

	result, err := svc.Process(context.Background(), records, []types.TaskCluster{{ClusterID: 1, Indices: []int{0, 1}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ActionKeep, result.Decisions["t0"].Action())
	assert.Equal(t, types.ActionDelete, result.Decisions["t1"].Action())
	assert.Equal(t, 1, result.Stats.ModelCalls)
}

type fakeChatClient struct {
	mu       sync.Mutex
	reply    string
	requests []ai.ChatRequest
}

func (f *fakeChatClient) Complete(ctx context.Context, req ai.ChatRequest) (*ai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &ai.Completion{Content: f.reply, Model: req.Model}, nil
}

func withoutTime(s Stats) Stats {
	s.ProcessingTimeMs = 0
	return s
}
