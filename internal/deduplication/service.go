package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Auriora/admin-assistant-sub002/internal/ai"
	"github.com/Auriora/admin-assistant-sub002/internal/clustering"
	"github.com/Auriora/admin-assistant-sub002/internal/config"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// Construction errors, shared with the ai package so either can be matched
var (
	ErrMissingAPIKey       = ai.ErrMissingAPIKey
	ErrUnsupportedProvider = ai.ErrUnsupportedProvider
)

// Service adjudicates clusters: exact duplicates are settled locally, and
// whatever is still ambiguous goes to the model.
type Service struct {
	cfg      config.Config
	client   ai.ChatClient
	batchAPI ai.BatchAPI
	invoker  ai.Invoker
	parser   *ai.ResponseParser
	prompts  *ai.PromptBuilder
	exact    *ExactDetector
	tracer   Tracer
	budget   ai.Budget
	logger   *log.Entry
}

// Option configures a Service
type Option func(*Service)

// WithChatClient sets the client used for synchronous model calls
func WithChatClient(client ai.ChatClient) Option {
	return func(s *Service) { s.client = client }
}

// WithBatchAPI sets the batch API used when batch mode is enabled
func WithBatchAPI(api ai.BatchAPI) Option {
	return func(s *Service) { s.batchAPI = api }
}

// WithInvoker replaces the model invoker entirely
func WithInvoker(invoker ai.Invoker) Option {
	return func(s *Service) { s.invoker = invoker }
}

func WithResponseParser(parser *ai.ResponseParser) Option {
	return func(s *Service) { s.parser = parser }
}

func WithPromptBuilder(builder *ai.PromptBuilder) Option {
	return func(s *Service) { s.prompts = builder }
}

func WithExactDetector(detector *ExactDetector) Option {
	return func(s *Service) { s.exact = detector }
}

// WithBudget meters the default invoker's model calls. It has no effect
// with WithInvoker.
func WithBudget(budget ai.Budget) Option {
	return func(s *Service) { s.budget = budget }
}

func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a service for cfg. Without an injected client or
// invoker it builds one from cfg, which requires an API key and a supported
// provider.
func NewService(cfg config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		tracer: NoopTracer{},
		logger: log.WithField("component", "dedup"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.parser == nil {
		s.parser = ai.NewResponseParser()
	}
	if s.prompts == nil {
		s.prompts = ai.NewPromptBuilder(cfg.UserEmails)
	}
	if s.exact == nil {
		s.exact = NewExactDetector(nil)
	}
	if s.invoker == nil {
		invoker, err := s.defaultInvoker()
		if err != nil {
			return nil, err
		}
		s.invoker = invoker
	}
	return s, nil
}

func (s *Service) defaultInvoker() (ai.Invoker, error) {
	if s.cfg.BatchEnabled {
		api := s.batchAPI
		if api == nil {
			if s.cfg.Provider != config.ProviderOpenAI && s.cfg.Provider != "" {
				return nil, fmt.Errorf("%w: batch mode is only available for %s, got %s",
					ErrUnsupportedProvider, config.ProviderOpenAI, s.cfg.Provider)
			}
			openaiAPI, err := ai.NewOpenAIBatchAPI(s.cfg.APIKey, s.cfg.BaseURL)
			if err != nil {
				return nil, err
			}
			api = openaiAPI
		}
		manager := ai.NewBatchJobManager(api, s.cfg.BatchDir, s.logger)
		var opts []ai.BatchOption
		if s.budget != nil {
			opts = append(opts, ai.WithBatchBudget(s.budget))
		}
		return ai.NewBatchInvoker(manager, s.cfg.BatchDir, s.cfg.DedupModel, s.cfg.DedupMaxCompletionTokens,
			s.cfg.PollInterval(), s.cfg.CompletionTimeout(), s.logger, opts...), nil
	}

	client := s.client
	if client == nil {
		var err error
		if client, err = ai.NewChatClient(s.cfg); err != nil {
			return nil, err
		}
	}
	opts := []ai.SyncOption{ai.WithSyncLogger(s.logger)}
	if s.cfg.DedupRequestsPerSecond > 0 {
		opts = append(opts, ai.WithRateLimit(s.cfg.DedupRequestsPerSecond, 1))
	}
	if s.budget != nil {
		opts = append(opts, ai.WithBudget(s.budget))
	}
	return ai.NewSyncInvoker(client, s.cfg.DedupModel, s.cfg.DedupMaxCompletionTokens, opts...), nil
}

// clusterWork is the state of one cluster between phases
type clusterWork struct {
	cluster types.TaskCluster
	end     func(outcome string, err error)

	// keys lists member keys in cluster order
	keys []string
	// auto holds exact-duplicate deletes and synthesized keeps
	auto map[string]*types.DedupDecision

	// entries and jobID are set when the model has to decide
	entries []ai.TaskEntry
	jobID   string
}

// Process decides every task of every cluster. Clusters are settled in the
// order given and their decisions merged left to right.
func (s *Service) Process(ctx context.Context, records []types.Record, clusters []types.TaskCluster, availableLists []string) (*Result, error) {
	start := time.Now()
	result := newResult()
	result.Stats.Clusters = len(clusters)

	work := make([]*clusterWork, 0, len(clusters))
	var jobs []ai.PromptJob
	for _, cluster := range clusters {
		w := s.prepare(ctx, records, cluster, result)
		work = append(work, w)
		if w.jobID != "" {
			jobs = append(jobs, ai.PromptJob{ID: w.jobID, System: ai.SystemPrompt, Prompt: s.prompts.Build(entryRecords(w.entries), availableLists)})
		} else {
			result.Stats.AutoResolvedClusters++
		}
	}

	var replies map[string]string
	if len(jobs) > 0 {
		s.logger.WithFields(log.Fields{"clusters": len(jobs), "batch": s.cfg.BatchEnabled}).Debug("Asking model about ambiguous clusters")
		var err error
		replies, err = s.invoker.Invoke(ctx, jobs)
		result.Stats.ModelCalls = len(jobs)
		if err != nil {
			err = fmt.Errorf("model invocation failed: %w", err)
			endAll(work, err)
			return nil, err
		}
	}

	for i, w := range work {
		if w.jobID == "" {
			s.mergeCluster(result, w, w.auto)
			w.end(OutcomeAuto, nil)
			continue
		}

		reply := replies[w.jobID]
		if strings.TrimSpace(reply) == "" {
			err := fmt.Errorf("cluster %d: %w", w.cluster.ClusterID, ai.ErrNoContent)
			endAll(work[i:], err)
			return nil, err
		}

		decisions, diagnostics := s.parser.Parse(reply, w.entries)
		for _, d := range decisions {
			d.ClusterID = w.cluster.ClusterID
			d.ClusterSize = w.cluster.Size()
		}
		for _, msg := range diagnostics {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("cluster %d: %s", w.cluster.ClusterID, msg))
		}
		if len(diagnostics) == 0 {
			// A clean response can still skip tasks
			for pos, entry := range w.entries {
				if _, ok := decisions[entry.Key]; !ok {
					result.Diagnostics = append(result.Diagnostics,
						fmt.Sprintf("cluster %d: model returned no decision for index %d (%s)", w.cluster.ClusterID, pos, entry.Key))
				}
			}
		} else {
			s.logger.WithFields(log.Fields{
				"cluster_id":  w.cluster.ClusterID,
				"diagnostics": len(diagnostics),
			}).Warn("Model response had problems")
		}

		s.mergeCluster(result, w, w.auto)
		s.mergeCluster(result, w, decisions)
		w.end(OutcomeModel, nil)
	}

	result.Stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	s.logger.WithFields(log.Fields{
		"clusters":    result.Stats.Clusters,
		"model_calls": result.Stats.ModelCalls,
		"decisions":   len(result.Decisions),
		"diagnostics": len(result.Diagnostics),
	}).Info("Deduplication complete")
	return result, nil
}

// ProcessClusters is Process without diagnostics or statistics
func (s *Service) ProcessClusters(ctx context.Context, records []types.Record, clusters []types.TaskCluster, availableLists []string) (map[string]*types.DedupDecision, error) {
	result, err := s.Process(ctx, records, clusters, availableLists)
	if err != nil {
		return nil, err
	}
	return result.Decisions, nil
}

// Deduplicate clusters records with the configured options and processes
// the clusters.
func (s *Service) Deduplicate(ctx context.Context, records []types.Record, availableLists []string) (*Result, error) {
	clusters := clustering.ClusterTasks(records, clustering.OptionsFromConfig(s.cfg))
	return s.Process(ctx, records, clusters, availableLists)
}

// prepare runs exact-duplicate detection on a cluster and decides whether
// the model is needed.
func (s *Service) prepare(ctx context.Context, records []types.Record, cluster types.TaskCluster, result *Result) *clusterWork {
	w := &clusterWork{cluster: cluster, end: s.tracer.StartCluster(ctx, cluster)}

	var members []types.Record
	var indices []int
	for _, idx := range cluster.Indices {
		if idx < 0 || idx >= len(records) {
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("cluster %d: index %d is outside the task list", cluster.ClusterID, idx))
			continue
		}
		members = append(members, records[idx])
		indices = append(indices, idx)
	}

	w.auto = s.exact.Detect(members, &cluster, indices)

	var remaining []ai.TaskEntry
	for pos, r := range members {
		key := keyOf(r, indices[pos])
		w.keys = append(w.keys, key)
		if _, resolved := w.auto[key]; resolved {
			continue
		}
		remaining = append(remaining, ai.TaskEntry{Key: key, ClusterIndex: indices[pos], Record: r})
	}

	logger := s.logger.WithFields(log.Fields{"cluster_id": cluster.ClusterID, "size": cluster.Size()})
	if len(remaining) <= 1 {
		for _, entry := range remaining {
			w.auto[entry.Key] = keepDecision(entry, cluster, len(members) > 1)
		}
		logger.WithField("exact_duplicates", len(w.auto)-len(remaining)).Debug("Cluster resolved without the model")
		return w
	}

	w.entries = remaining
	w.jobID = fmt.Sprintf("cluster-%d", cluster.ClusterID)
	logger.WithField("remaining", len(remaining)).Debug("Cluster needs the model")
	return w
}

func keepDecision(entry ai.TaskEntry, cluster types.TaskCluster, hadDuplicates bool) *types.DedupDecision {
	rationale := "No similar tasks found."
	if hadDuplicates {
		rationale = "Only task left after removing exact duplicates."
	}
	return &types.DedupDecision{
		TaskKey:      entry.Key,
		ClusterIndex: entry.ClusterIndex,
		RawAction:    string(types.ActionKeep),
		Source:       types.SourceAuto,
		Rationale:    rationale,
		Comment:      "Auto dedup: kept",
		ClusterID:    cluster.ClusterID,
		ClusterSize:  cluster.Size(),
	}
}

func (s *Service) mergeCluster(result *Result, w *clusterWork, decisions map[string]*types.DedupDecision) {
	for _, key := range result.merge(w.keys, decisions) {
		s.logger.WithFields(log.Fields{
			"cluster_id": w.cluster.ClusterID,
			"task_key":   key,
		}).Warn("Task already decided by an earlier cluster; keeping the first decision")
	}
}

func entryRecords(entries []ai.TaskEntry) []types.Record {
	records := make([]types.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records
}

func endAll(work []*clusterWork, err error) {
	for _, w := range work {
		w.end(OutcomeError, err)
	}
}
