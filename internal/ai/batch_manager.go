package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// CompletionWindow is the batch completion window requested from the API
const CompletionWindow = "24h"

// Batch statuses reported by the API
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusCancelling = "cancelling"
	BatchStatusCancelled  = "cancelled"
	BatchStatusExpired    = "expired"
)

// ErrBatchTimeout is matched by errors.Is for every *BatchTimeoutError
var ErrBatchTimeout = errors.New("batch did not reach a terminal state in time")

// BatchTimeoutError is returned when a batch is still running after the wait
// budget. It is distinct from a batch that ended as failed or cancelled.
type BatchTimeoutError struct {
	BatchID    string
	LastStatus string
	Waited     time.Duration
}

func (e *BatchTimeoutError) Error() string {
	return fmt.Sprintf("batch %s still %s after %v", e.BatchID, e.LastStatus, e.Waited)
}

func (e *BatchTimeoutError) Unwrap() error {
	return ErrBatchTimeout
}

// BatchRecord is the API's view of a batch
type BatchRecord struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Endpoint     string `json:"endpoint"`
	InputFileID  string `json:"input_file_id"`
	OutputFileID string `json:"output_file_id,omitempty"`
	ErrorFileID  string `json:"error_file_id,omitempty"`
}

// Terminal reports whether the batch will not change status again
func (r *BatchRecord) Terminal() bool {
	switch r.Status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled, BatchStatusExpired:
		return true
	}
	return false
}

// BatchState is the local record of a submitted batch, kept so an
// interrupted run can resume waiting.
type BatchState struct {
	BatchID       string `json:"batch_id"`
	InputFileID   string `json:"input_file_id"`
	InputFilePath string `json:"input_file_path"`
	Status        string `json:"status"`
	Endpoint      string `json:"endpoint"`
	Description   string `json:"description"`
}

// BatchResult is the outcome of one request in a finished batch
type BatchResult struct {
	CustomID     string
	StatusCode   int
	Content      string
	Error        string
	InputTokens  int64
	OutputTokens int64
}

// BatchAPI is the subset of a batch-capable provider API the manager needs
type BatchAPI interface {
	// UploadFile uploads a batch input file and returns its file id
	UploadFile(ctx context.Context, path string) (string, error)
	CreateBatch(ctx context.Context, inputFileID string, endpoint Endpoint, completionWindow string, metadata map[string]string) (*BatchRecord, error)
	RetrieveBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

// BatchJobManager submits batch files, waits for them and keeps their state
// on disk under stateDir.
type BatchJobManager struct {
	api      BatchAPI
	stateDir string
	logger   *log.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchJobManager creates a manager. A nil logger uses the standard logger.
func NewBatchJobManager(api BatchAPI, stateDir string, logger *log.Entry) *BatchJobManager {
	if logger == nil {
		logger = log.WithField("component", "batch")
	}
	return &BatchJobManager{
		api:      api,
		stateDir: stateDir,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Submit uploads inputFile, creates a batch for it and records the batch
// state. It returns the batch id.
func (m *BatchJobManager) Submit(ctx context.Context, inputFile string, endpoint Endpoint, description string) (string, error) {
	fileID, err := m.api.UploadFile(ctx, inputFile)
	if err != nil {
		return "", fmt.Errorf("failed to upload batch file %s: %w", inputFile, err)
	}

	var metadata map[string]string
	if description != "" {
		metadata = map[string]string{"description": description}
	}
	record, err := m.api.CreateBatch(ctx, fileID, endpoint, CompletionWindow, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}

	state := &BatchState{
		BatchID:       record.ID,
		InputFileID:   fileID,
		InputFilePath: inputFile,
		Status:        record.Status,
		Endpoint:      string(endpoint),
		Description:   description,
	}
	if err := m.saveState(state); err != nil {
		return "", err
	}

	m.logger.WithFields(log.Fields{
		"batch_id": record.ID,
		"status":   record.Status,
		"file_id":  fileID,
	}).Info("Submitted batch")
	return record.ID, nil
}

// WaitForCompletion polls until the batch reaches a terminal status and
// returns its final record. Failed, cancelled and expired batches are
// returned normally; running out of budget returns a *BatchTimeoutError.
func (m *BatchJobManager) WaitForCompletion(ctx context.Context, batchID string, pollInterval, timeout time.Duration) (*BatchRecord, error) {
	start := m.now()
	logger := m.logger.WithField("batch_id", batchID)
	lastStatus := ""

	for {
		record, err := m.api.RetrieveBatch(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve batch %s: %w", batchID, err)
		}

		if record.Status != lastStatus {
			logger.WithField("status", record.Status).Debug("Batch status changed")
			lastStatus = record.Status
			if err := m.updateStatus(batchID, record.Status); err != nil {
				logger.WithError(err).Warn("Failed to update batch state")
			}
		}

		if record.Terminal() {
			logger.WithField("status", record.Status).Info("Batch finished")
			return record, nil
		}

		elapsed := m.now().Sub(start)
		if elapsed >= timeout {
			return nil, &BatchTimeoutError{BatchID: batchID, LastStatus: record.Status, Waited: elapsed}
		}

		wait := pollInterval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		if err := m.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// DownloadResults fetches and parses the output file of a finished batch,
// keyed by custom id. Requests listed in the error file are included with
// their error message.
func (m *BatchJobManager) DownloadResults(ctx context.Context, record *BatchRecord) (map[string]BatchResult, error) {
	results := make(map[string]BatchResult)
	if record.OutputFileID == "" && record.ErrorFileID == "" {
		return nil, fmt.Errorf("batch %s has no output file (status %s)", record.ID, record.Status)
	}

	for _, fileID := range []string{record.OutputFileID, record.ErrorFileID} {
		if fileID == "" {
			continue
		}
		data, err := m.api.FileContent(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to download batch file %s: %w", fileID, err)
		}
		if err := parseBatchOutput(data, results); err != nil {
			return nil, fmt.Errorf("failed to parse batch file %s: %w", fileID, err)
		}
	}
	return results, nil
}

// parseBatchOutput reads output JSONL into results. Chat completion and
// responses bodies are both understood.
func parseBatchOutput(data []byte, results map[string]BatchResult) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return fmt.Errorf("line %d is not valid JSON", lineNo)
		}

		parsed := gjson.ParseBytes(line)
		customID := parsed.Get("custom_id").String()
		if customID == "" {
			return fmt.Errorf("line %d has no custom_id", lineNo)
		}

		result := BatchResult{
			CustomID:   customID,
			StatusCode: int(parsed.Get("response.status_code").Int()),
			Error:      parsed.Get("error.message").String(),
		}
		body := parsed.Get("response.body")
		if content := body.Get("choices.0.message.content"); content.Exists() {
			result.Content = content.String()
		} else if content := body.Get(`output.#(type=="message").content.#(type=="output_text").text`); content.Exists() {
			result.Content = content.String()
		}
		if result.Error == "" {
			result.Error = body.Get("error.message").String()
		}
		// Chat completions report prompt/completion tokens, responses input/output
		result.InputTokens = body.Get("usage.prompt_tokens").Int() + body.Get("usage.input_tokens").Int()
		result.OutputTokens = body.Get("usage.completion_tokens").Int() + body.Get("usage.output_tokens").Int()

		// A success line wins over an error-file line for the same request
		if existing, ok := results[customID]; ok && existing.Content != "" {
			continue
		}
		results[customID] = result
	}
	return scanner.Err()
}

// LoadState reads the recorded state of a batch
func (m *BatchJobManager) LoadState(batchID string) (*BatchState, error) {
	data, err := os.ReadFile(m.statePath(batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to read state for batch %s: %w", batchID, err)
	}
	var state BatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state for batch %s: %w", batchID, err)
	}
	return &state, nil
}

func (m *BatchJobManager) statePath(batchID string) string {
	return filepath.Join(m.stateDir, batchID+".json")
}

func (m *BatchJobManager) updateStatus(batchID, status string) error {
	state, err := m.LoadState(batchID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		// Batches submitted elsewhere are tracked from their first poll
		state = &BatchState{BatchID: batchID}
	}
	state.Status = status
	return m.saveState(state)
}

// saveState writes the state file through a temp file so a crash never
// leaves a truncated record behind.
func (m *BatchJobManager) saveState(state *BatchState) error {
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	path := m.statePath(state.BatchID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
