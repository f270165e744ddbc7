// Package config holds the runtime parameters of the deduplication core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Provider selects the model vendor used for adjudication
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config is the runtime snapshot for one deduplication run.
// Build it once with DefaultConfig, FromEnv or Load and pass it by value;
// nothing in this module mutates it after construction.
type Config struct {
	// FuzzyScoreThreshold is the minimum combined similarity (0-100) for two
	// tasks to land in the same cluster
	// Default: 86
	FuzzyScoreThreshold int `json:"fuzzy_score_threshold" yaml:"fuzzy_score_threshold"`

	// DedupModel is the model asked to adjudicate ambiguous clusters
	DedupModel string `json:"dedup_model" yaml:"dedup_model"`

	// DedupMaxCompletionTokens is the completion budget per model call
	// Default: 4096
	DedupMaxCompletionTokens int `json:"dedup_max_completion_tokens" yaml:"dedup_max_completion_tokens"`

	// DedupRequestsPerSecond spaces synchronous model calls; 0 means no limit
	// Default: 0
	DedupRequestsPerSecond float64 `json:"dedup_requests_per_second" yaml:"dedup_requests_per_second"`

	// BatchEnabled routes model calls through the asynchronous batch API
	// Default: false (synchronous calls)
	BatchEnabled bool `json:"batch_enabled" yaml:"batch_enabled"`

	// BatchPollIntervalSeconds is the delay between batch status polls
	// Default: 30
	BatchPollIntervalSeconds int `json:"batch_poll_interval_seconds" yaml:"batch_poll_interval_seconds"`

	// BatchCompletionTimeoutSeconds bounds how long to wait for a batch
	// Default: 3600
	BatchCompletionTimeoutSeconds int `json:"batch_completion_timeout_seconds" yaml:"batch_completion_timeout_seconds"`

	// BatchDir is where JSONL inputs and batch state records are written
	// Default: batch_jobs
	BatchDir string `json:"batch_dir" yaml:"batch_dir"`

	// UserEmails are the user's mailboxes, passed to the model as context only.
	// They are not used for access control.
	UserEmails []string `json:"user_emails" yaml:"user_emails"`

	// Provider is the model vendor (openai or anthropic)
	// Default: openai
	Provider Provider `json:"provider" yaml:"provider"`

	// APIKey authenticates model calls. When empty it is read from
	// OPENAI_API_KEY or ANTHROPIC_API_KEY according to Provider.
	APIKey string `json:"-" yaml:"api_key"`

	// BaseURL overrides the API endpoint for OpenAI-compatible gateways
	BaseURL string `json:"base_url" yaml:"base_url"`

	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FuzzyScoreThreshold:           86,
		DedupModel:                    "gpt-4o-mini",
		DedupMaxCompletionTokens:      4096,
		BatchEnabled:                  false,
		BatchPollIntervalSeconds:      30,
		BatchCompletionTimeoutSeconds: 3600,
		BatchDir:                      "batch_jobs",
		Provider:                      ProviderOpenAI,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FuzzyScoreThreshold, validation.Min(0), validation.Max(100)),
		validation.Field(&c.DedupModel, validation.Required),
		validation.Field(&c.DedupMaxCompletionTokens, validation.Required, validation.Min(1), validation.Max(200000)),
		validation.Field(&c.DedupRequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.BatchPollIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchCompletionTimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchDir, validation.Required),
		validation.Field(&c.UserEmails, validation.Each(is.EmailFormat)),
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOpenAI, ProviderAnthropic)),
	)
}

// PollInterval returns the batch poll interval as a duration
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.BatchPollIntervalSeconds) * time.Second
}

// CompletionTimeout returns the batch completion budget as a duration
func (c Config) CompletionTimeout() time.Duration {
	return time.Duration(c.BatchCompletionTimeoutSeconds) * time.Second
}

// String returns a human-readable representation of the config.
// The API key is never included.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Threshold: %d, Provider: %s, Model: %s, MaxTokens: %d, Batch: %t, "+
			"PollEvery: %v, Timeout: %v, UserEmails: %d}",
		c.FuzzyScoreThreshold, c.Provider, c.DedupModel, c.DedupMaxCompletionTokens, c.BatchEnabled,
		c.PollInterval(), c.CompletionTimeout(), len(c.UserEmails),
	)
}

// FromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - FUZZY_SCORE_THRESHOLD: Minimum similarity (0-100) to cluster tasks (default: 86)
//   - DEDUP_MODEL: Model used for adjudication (default: gpt-4o-mini)
//   - DEDUP_MAX_COMPLETION_TOKENS: Completion budget per call (default: 4096)
//   - DEDUP_REQUESTS_PER_SECOND: Rate limit for synchronous calls (default: 0, unlimited)
//   - DEDUP_BATCH_ENABLED: Use the batch API (default: false)
//   - DEDUP_BATCH_POLL_INTERVAL_SECONDS: Seconds between batch polls (default: 30)
//   - DEDUP_BATCH_COMPLETION_TIMEOUT_SECONDS: Batch wait budget (default: 3600)
//   - DEDUP_BATCH_DIR: Batch working directory (default: batch_jobs)
//   - USER_EMAILS: Comma separated mailbox list
//   - DEDUP_PROVIDER: openai or anthropic (default: openai)
//   - DEDUP_BASE_URL: Alternate OpenAI-compatible endpoint
//   - DEBUG: Verbose logging
//
// Returns an error if any environment variable has an invalid value.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvInt("FUZZY_SCORE_THRESHOLD", &cfg.FuzzyScoreThreshold); err != nil {
		return cfg, err
	}
	parseEnvString("DEDUP_MODEL", &cfg.DedupModel)
	if err := parseEnvInt("DEDUP_MAX_COMPLETION_TOKENS", &cfg.DedupMaxCompletionTokens); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("DEDUP_REQUESTS_PER_SECOND", &cfg.DedupRequestsPerSecond); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("DEDUP_BATCH_ENABLED", &cfg.BatchEnabled); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEDUP_BATCH_POLL_INTERVAL_SECONDS", &cfg.BatchPollIntervalSeconds); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEDUP_BATCH_COMPLETION_TIMEOUT_SECONDS", &cfg.BatchCompletionTimeoutSeconds); err != nil {
		return cfg, err
	}
	parseEnvString("DEDUP_BATCH_DIR", &cfg.BatchDir)
	if v := os.Getenv("USER_EMAILS"); v != "" {
		cfg.UserEmails = splitList(v)
	}
	var provider string
	parseEnvString("DEDUP_PROVIDER", &provider)
	if provider != "" {
		cfg.Provider = Provider(strings.ToLower(provider))
	}
	parseEnvString("DEDUP_BASE_URL", &cfg.BaseURL)
	if err := parseEnvBool("DEBUG", &cfg.Debug); err != nil {
		return cfg, err
	}

	cfg.APIKey = cfg.resolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML configuration file on top of the defaults.
// ${VAR} references in the file are expanded from the environment.
func Load(filename string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	cfg.Provider = Provider(strings.ToLower(string(cfg.Provider)))
	cfg.APIKey = cfg.resolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c Config) resolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch c.Provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseEnvString copies a non-empty environment variable into dest
func parseEnvString(key string, dest *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dest = value
	}
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
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

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
