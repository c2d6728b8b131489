package config

import (
	"fmt"
	"time"
)

// Config is the main configuration struct, yaml-mapped.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Chat      ChatConfig      `yaml:"chat"`
	Approvals ApprovalConfig  `yaml:"approvals"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     DebugConfig     `yaml:"debug"`
}

// BackendConfig points the engine at the orchestrator backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
	APIKey  string `yaml:"api_key"`
	// HTTPClient selects the submission transport: nethttp (default) or
	// fasthttp.
	HTTPClient string `yaml:"http_client"`
	// Timeout bounds each HTTP submission, e.g. "120s".
	Timeout string `yaml:"timeout"`
}

// ChatConfig holds per-session chat behavior.
type ChatConfig struct {
	// Mode is the human-in-the-loop toggle: "auto" or "review".
	Mode   string       `yaml:"mode"`
	Typing TypingConfig `yaml:"typing"`
	// SaveDebounceMs batches intermediate persistence writes.
	SaveDebounceMs int `yaml:"save_debounce_ms"`
}

// TypingConfig paces the progressive reveal of worker prose.
type TypingConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	IntervalMs int `yaml:"interval_ms"`
}

// ApprovalConfig tunes the approval deadline watcher.
type ApprovalConfig struct {
	CheckIntervalMs       int `yaml:"check_interval_ms"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

// StorageConfig locates the local conversation store.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RetentionConfig holds the automatic conversation pruning schedule.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	Period    string `yaml:"period"`
	BatchSize int    `yaml:"batch_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DebugConfig configures the local metrics/troubleshooting server.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// HTTPTimeout parses the backend timeout with a 120s default.
func (b BackendConfig) HTTPTimeout() (time.Duration, error) {
	if b.Timeout == "" {
		return 120 * time.Second, nil
	}
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid backend timeout %q: %w", b.Timeout, err)
	}
	return d, nil
}

// RetentionPeriod parses the retention period ("720h" style) with a
// 30-day default.
func (r RetentionConfig) RetentionPeriod() (time.Duration, error) {
	if r.Period == "" {
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(r.Period)
	if err != nil {
		return 0, fmt.Errorf("invalid retention period %q: %w", r.Period, err)
	}
	return d, nil
}
