// Package cost tracks model token usage against an hourly budget.
package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage past the alert threshold
	BudgetWarning
	// BudgetExceeded indicates budget limits have been reached
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState represents the persisted budget tracking state
type BudgetState struct {
	// Window tracking
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	// JobTokensUsed maps a prompt job id (e.g. cluster-3) to its tokens
	JobTokensUsed map[string]int64 `json:"job_tokens_used"`

	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`

	LastUpdated time.Time `json:"last_updated"`
}

// Tracker tracks token usage and answers whether another call fits the budget.
// It is safe for concurrent use.
type Tracker struct {
	config *Config
	state  *BudgetState
	logger *log.Entry
	mu     sync.Mutex

	now           func() time.Time
	warningLogged bool
}

// NewTracker creates a tracker, restoring persisted state when present.
// A nil logger uses the standard logger.
func NewTracker(cfg *Config, logger *log.Entry) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.WithField("component", "cost")
	}

	t := &Tracker{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	t.state = t.freshState()

	if err := t.loadState(); err != nil {
		logger.WithError(err).WithField("path", cfg.PersistStatePath).Warn("Failed to load cost state, starting fresh")
		t.state = t.freshState()
	}
	t.checkAndResetWindow()
	return t, nil
}

func (t *Tracker) freshState() *BudgetState {
	now := t.now()
	return &BudgetState{
		WindowStartTime: now,
		JobTokensUsed:   make(map[string]int64),
		LastUpdated:     now,
	}
}

// RecordUsage adds the tokens of one model call
func (t *Tracker) RecordUsage(jobID string, inputTokens, outputTokens int64) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	tokens := inputTokens + outputTokens
	cost := t.calculateCost(inputTokens, outputTokens)
	t.state.HourlyTokensUsed += tokens
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += tokens
	t.state.TotalCostUsed += cost
	t.state.LastUpdated = t.now()
	if jobID != "" {
		t.state.JobTokensUsed[jobID] += tokens
	}

	if err := t.persistState(); err != nil {
		t.logger.WithError(err).Warn("Failed to persist cost state")
	}

	status := t.statusLocked()
	entry := t.logger.WithFields(log.Fields{
		"job":         jobID,
		"tokens":      tokens,
		"cost":        fmt.Sprintf("$%.4f", cost),
		"window_used": t.state.HourlyTokensUsed,
	})
	switch {
	case status == BudgetExceeded:
		entry.Warn("Token budget exceeded")
	case status == BudgetWarning && !t.warningLogged:
		t.warningLogged = true
		entry.Warn("Token budget nearly used")
	default:
		entry.Debug("Recorded token usage")
	}
}

// CheckBudget returns the current budget status without recording usage
func (t *Tracker) CheckBudget() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()
	return t.statusLocked()
}

// CanProceed reports whether another model call fits the budget, and why not
func (t *Tracker) CanProceed() (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()

	if t.tokenLimitReached() {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}
	if t.costLimitReached() {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}
	return true, ""
}

// GetStats returns current budget statistics
func (t *Tracker) GetStats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()

	jobs := make(map[string]int64, len(t.state.JobTokensUsed))
	for id, tokens := range t.state.JobTokensUsed {
		jobs[id] = tokens
	}
	return BudgetStats{
		Status:           t.statusLocked(),
		HourlyTokensUsed: t.state.HourlyTokensUsed,
		HourlyCostUsed:   t.state.HourlyCostUsed,
		TotalTokensUsed:  t.state.TotalTokensUsed,
		TotalCostUsed:    t.state.TotalCostUsed,
		JobTokensUsed:    jobs,
		WindowStartTime:  t.state.WindowStartTime,
		LastUpdated:      t.state.LastUpdated,
	}
}

// BudgetStats contains budget statistics
type BudgetStats struct {
	Status           BudgetStatus     `json:"status"`
	HourlyTokensUsed int64            `json:"hourly_tokens_used"`
	HourlyCostUsed   float64          `json:"hourly_cost_used"`
	TotalTokensUsed  int64            `json:"total_tokens_used"`
	TotalCostUsed    float64          `json:"total_cost_used"`
	JobTokensUsed    map[string]int64 `json:"job_tokens_used"`
	WindowStartTime  time.Time        `json:"window_start_time"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// statusLocked must be called with mu held
func (t *Tracker) statusLocked() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}
	if t.tokenLimitReached() || t.costLimitReached() {
		return BudgetExceeded
	}
	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) tokenLimitReached() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) costLimitReached() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

// checkAndResetWindow resets window counters once the interval has passed.
// MUST be called with mu held (or before the tracker is shared).
func (t *Tracker) checkAndResetWindow() {
	now := t.now()
	if now.Sub(t.state.WindowStartTime) >= t.config.BudgetResetInterval {
		t.state.HourlyTokensUsed = 0
		t.state.HourlyCostUsed = 0
		t.state.WindowStartTime = now
		t.warningLogged = false
	}
}

// persistState writes the state through a temp file
func (t *Tracker) persistState() error {
	path := t.config.PersistStatePath
	if path == "" {
		return nil // Persistence disabled
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// loadState restores persisted state; a missing file is not an error
func (t *Tracker) loadState() error {
	path := t.config.PersistStatePath
	if path == "" || !t.config.Enabled {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state file yet, start fresh
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.JobTokensUsed == nil {
		state.JobTokensUsed = make(map[string]int64)
	}
	t.state = &state
	return nil
}
