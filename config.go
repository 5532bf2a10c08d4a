package marketsdk

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultBaseURL   = "https://api.aimarket.dev/v1"
	DefaultTimeoutMs = 30_000
	DefaultRetries   = 3
)

// Config enumerates every recognized client option. Unknown keys in a
// config file are rejected at load time, not silently forwarded.
//
// Zero values mean "use the default": TimeoutMs 0 selects
// DefaultTimeoutMs, Retries 0 selects DefaultRetries, BaseURL ""
// selects DefaultBaseURL. A zero-retry client is therefore not
// expressible through Config; single-attempt behavior is reserved for
// non-retryable failures.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	TeamID       string `yaml:"team_id"`
	UserID       string `yaml:"user_id"`

	// TimeoutMs bounds each dispatch attempt. 0 selects DefaultTimeoutMs.
	TimeoutMs int `yaml:"timeout_ms"`

	// Retries is the retry budget beyond the first attempt.
	// 0 selects DefaultRetries.
	Retries int `yaml:"retries"`

	// DailyBudget caps spend per UTC day in USD. 0 disables the cap.
	DailyBudget float64 `yaml:"daily_budget"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("marketsdk: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("marketsdk: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("marketsdk: config: timeout_ms must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("marketsdk: config: retries must not be negative")
	}
	if c.DailyBudget < 0 {
		return fmt.Errorf("marketsdk: config: daily_budget must not be negative")
	}
	return nil
}

// timeout returns the per-attempt timeout with the default applied.
func (c Config) timeout() time.Duration {
	ms := c.TimeoutMs
	if ms == 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// retryCount returns the retry budget with the default applied.
func (c Config) retryCount() int {
	if c.Retries == 0 {
		return DefaultRetries
	}
	return c.Retries
}
