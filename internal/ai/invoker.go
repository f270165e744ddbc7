package ai

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PromptJob is one prompt to send to the model
type PromptJob struct {
	// ID identifies the job in the result map, e.g. "cluster-3"
	ID     string
	System string
	Prompt string
}

// ErrBudgetExceeded is returned when a budget refuses another model call
var ErrBudgetExceeded = errors.New("token budget exceeded")

// Budget meters model usage. Calls are refused while CanProceed is false.
type Budget interface {
	CanProceed() (bool, string)
	RecordUsage(jobID string, inputTokens, outputTokens int64)
}

// Invoker sends prompts to the model and returns the raw reply text per job
// id. A job with no reply is absent from the map.
type Invoker interface {
	Invoke(ctx context.Context, jobs []PromptJob) (map[string]string, error)
}

// SyncInvoker calls the model once per job, in order. Errors are returned as
// is; there is no retry.
type SyncInvoker struct {
	client    ChatClient
	model     string
	maxTokens int
	limiter   *rate.Limiter
	budget    Budget
	logger    *log.Entry
}

// SyncOption configures a SyncInvoker
type SyncOption func(*SyncInvoker)

// WithRateLimit spaces calls to at most perSecond, allowing bursts of burst
func WithRateLimit(perSecond float64, burst int) SyncOption {
	return func(s *SyncInvoker) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBudget checks budget before each call and records usage after it
func WithBudget(budget Budget) SyncOption {
	return func(s *SyncInvoker) {
		s.budget = budget
	}
}

// WithSyncLogger sets the logger
func WithSyncLogger(logger *log.Entry) SyncOption {
	return func(s *SyncInvoker) {
		s.logger = logger
	}
}

// NewSyncInvoker creates an invoker that calls client directly
func NewSyncInvoker(client ChatClient, model string, maxTokens int, opts ...SyncOption) *SyncInvoker {
	s := &SyncInvoker{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    log.WithField("component", "invoker"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncInvoker) Invoke(ctx context.Context, jobs []PromptJob) (map[string]string, error) {
	replies := make(map[string]string, len(jobs))
	for _, job := range jobs {
		if s.budget != nil {
			if ok, reason := s.budget.CanProceed(); !ok {
				return nil, fmt.Errorf("model call for %s: %w: %s", job.ID, ErrBudgetExceeded, reason)
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		start := time.Now()
		completion, err := s.client.Complete(ctx, ChatRequest{
			Model:     s.model,
			Messages:  PromptMessages(job.System, job.Prompt),
			MaxTokens: s.maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("model call for %s failed: %w", job.ID, err)
		}
		if s.budget != nil {
			s.budget.RecordUsage(job.ID, completion.InputTokens, completion.OutputTokens)
		}
		if strings.TrimSpace(completion.Content) == "" {
			return nil, fmt.Errorf("model call for %s: %w", job.ID, ErrNoContent)
		}

		s.logger.WithFields(log.Fields{
			"job":           job.ID,
			"duration":      time.Since(start).Round(time.Millisecond),
			"input_tokens":  completion.InputTokens,
			"output_tokens": completion.OutputTokens,
			"reply":         truncatePreview(completion.Content, 200),
		}).Debug("Model call complete")
		replies[job.ID] = completion.Content
	}
	return replies, nil
}

// BatchInvoker sends all jobs as one batch and waits for it to finish
type BatchInvoker struct {
	manager      *BatchJobManager
	workDir      string
	model        string
	maxTokens    int
	pollInterval time.Duration
	timeout      time.Duration
	budget       Budget
	logger       *log.Entry
}

// BatchOption configures a BatchInvoker
type BatchOption func(*BatchInvoker)

// WithBatchBudget checks budget before submitting and records the usage
// reported for each request
func WithBatchBudget(budget Budget) BatchOption {
	return func(b *BatchInvoker) {
		b.budget = budget
	}
}

// NewBatchInvoker creates a batch invoker. Input files are written to workDir.
func NewBatchInvoker(manager *BatchJobManager, workDir, model string, maxTokens int, pollInterval, timeout time.Duration, logger *log.Entry, opts ...BatchOption) *BatchInvoker {
	if logger == nil {
		logger = log.WithField("component", "invoker")
	}
	b := &BatchInvoker{
		manager:      manager,
		workDir:      workDir,
		model:        model,
		maxTokens:    maxTokens,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BatchInvoker) Invoke(ctx context.Context, jobs []PromptJob) (map[string]string, error) {
	if len(jobs) == 0 {
		return map[string]string{}, nil
	}
	if b.budget != nil {
		if ok, reason := b.budget.CanProceed(); !ok {
			return nil, fmt.Errorf("batch of %d jobs: %w: %s", len(jobs), ErrBudgetExceeded, reason)
		}
	}

	builder := NewBatchRequestBuilder()
	for _, job := range jobs {
		if err := builder.Add(job.ID, b.model, PromptMessages(job.System, job.Prompt), b.maxTokens, nil); err != nil {
			return nil, fmt.Errorf("failed to queue %s: %w", job.ID, err)
		}
	}

	path := filepath.Join(b.workDir, "dedup-"+uuid.NewString()+".jsonl")
	if err := builder.WriteJSONL(path); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("task dedup: %d clusters", len(jobs))
	batchID, err := b.manager.Submit(ctx, path, builder.Endpoint(), description)
	if err != nil {
		return nil, err
	}

	record, err := b.manager.WaitForCompletion(ctx, batchID, b.pollInterval, b.timeout)
	if err != nil {
		return nil, err
	}
	if record.Status != BatchStatusCompleted {
		return nil, fmt.Errorf("batch %s ended with status %s", batchID, record.Status)
	}

	results, err := b.manager.DownloadResults(ctx, record)
	if err != nil {
		return nil, err
	}

	replies := make(map[string]string, len(results))
	for id, result := range results {
		if b.budget != nil && result.InputTokens+result.OutputTokens > 0 {
			b.budget.RecordUsage(id, result.InputTokens, result.OutputTokens)
		}
		if result.Error != "" || strings.TrimSpace(result.Content) == "" {
			b.logger.WithFields(log.Fields{
				"batch_id": batchID,
				"job":      id,
				"status":   result.StatusCode,
				"error":    result.Error,
			}).Warn("Batch request returned no content")
			continue
		}
		replies[id] = result.Content
	}
	return replies, nil
}
