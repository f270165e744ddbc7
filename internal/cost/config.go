package cost

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds token budgeting configuration for model calls
type Config struct {
	// Enabled controls whether budgeting is active
	// Default: false (dedup runs are small; opt in for scheduled runs)
	Enabled bool `json:"enabled"`

	// MaxTokensPerHour is the maximum number of tokens (input + output) per window
	// 0 = unlimited
	// Default: 200000
	MaxTokensPerHour int64 `json:"max_tokens_per_hour"`

	// MaxCostPerHour is the maximum cost in USD per window
	// 0.0 = unlimited (use token limits instead)
	// Default: 0.50
	MaxCostPerHour float64 `json:"max_cost_per_hour"`

	// AlertThreshold is the fraction of budget usage that triggers a warning
	// Default: 0.80
	AlertThreshold float64 `json:"alert_threshold"`

	// BudgetResetInterval is how often the window resets
	// Default: 1 hour
	BudgetResetInterval time.Duration `json:"budget_reset_interval"`

	// PersistStatePath is where budget state is kept between runs
	// Empty disables persistence
	// Default: batch_jobs/cost_state.json
	PersistStatePath string `json:"persist_state_path"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $0.15 (gpt-4o-mini)
	InputTokenCost float64 `json:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $0.60 (gpt-4o-mini)
	OutputTokenCost float64 `json:"output_token_cost"`
}

// DefaultConfig returns default budgeting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:             false,
		MaxTokensPerHour:    200000,
		MaxCostPerHour:      0.50,
		AlertThreshold:      0.80,
		BudgetResetInterval: time.Hour,
		PersistStatePath:    "batch_jobs/cost_state.json",
		InputTokenCost:      0.15,
		OutputTokenCost:     0.60,
	}
}

// LoadFromEnv loads budgeting configuration from environment variables
// Environment variables override default values
// Prefix: DEDUP_COST_
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if val := os.Getenv("DEDUP_COST_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid value for DEDUP_COST_ENABLED: %w", err)
		}
		cfg.Enabled = enabled
	}
	if err := parseInt64("DEDUP_COST_MAX_TOKENS_PER_HOUR", &cfg.MaxTokensPerHour); err != nil {
		return nil, err
	}
	if err := parseFloat("DEDUP_COST_MAX_COST_PER_HOUR", &cfg.MaxCostPerHour); err != nil {
		return nil, err
	}
	if err := parseFloat("DEDUP_COST_ALERT_THRESHOLD", &cfg.AlertThreshold); err != nil {
		return nil, err
	}
	if val := os.Getenv("DEDUP_COST_BUDGET_RESET_INTERVAL"); val != "" {
		interval, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid value for DEDUP_COST_BUDGET_RESET_INTERVAL: %w", err)
		}
		cfg.BudgetResetInterval = interval
	}
	if val, ok := os.LookupEnv("DEDUP_COST_PERSIST_STATE_PATH"); ok {
		cfg.PersistStatePath = strings.TrimSpace(val)
	}
	if err := parseFloat("DEDUP_COST_INPUT_TOKEN_COST", &cfg.InputTokenCost); err != nil {
		return nil, err
	}
	if err := parseFloat("DEDUP_COST_OUTPUT_TOKEN_COST", &cfg.OutputTokenCost); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost config from environment: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxTokensPerHour, validation.Min(int64(0))),
		validation.Field(&c.MaxCostPerHour, validation.Min(0.0)),
		validation.Field(&c.AlertThreshold, validation.Required, validation.Min(0.01), validation.Max(1.0)),
		validation.Field(&c.BudgetResetInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.InputTokenCost, validation.Min(0.0)),
		validation.Field(&c.OutputTokenCost, validation.Min(0.0)),
	)
}

func parseInt64(key string, dest *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
