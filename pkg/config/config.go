package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Effective is the merged configuration plus the source it came from,
// recorded for the startup banner.
type Effective struct {
	Config Config
	// Source is "defaults", "config", "env", or "config+env".
	Source string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	var c Config
	c.Backend.BaseURL = "http://localhost:8080"
	c.Backend.WSURL = "ws://localhost:8080/ws"
	c.Backend.HTTPClient = "nethttp"
	c.Chat.Mode = "review"
	c.Chat.Typing.ChunkSize = 3
	c.Chat.Typing.IntervalMs = 30
	c.Chat.SaveDebounceMs = 500
	c.Approvals.CheckIntervalMs = 1000
	c.Approvals.DefaultTimeoutSeconds = 300
	c.Storage.DBPath = "./data/chatflow"
	c.Retention.Cron = "0 3 * * *"
	c.Retention.BatchSize = 100
	c.Logging.Level = "info"
	c.Debug.Addr = "127.0.0.1:9190"
	return c
}

// LoadEffective merges file and environment over the defaults. An empty
// path skips the file layer; env always wins over file.
func LoadEffective(path string) (Effective, error) {
	cfg := Defaults()
	source := "defaults"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Effective{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Effective{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		source = "config"
	}

	if applyEnv(&cfg) {
		if source == "config" {
			source = "config+env"
		} else {
			source = "env"
		}
	}

	if err := Validate(cfg); err != nil {
		return Effective{}, err
	}
	return Effective{Config: cfg, Source: source}, nil
}

// applyEnv overlays CHATFLOW_* environment variables and reports whether
// any were present.
func applyEnv(c *Config) bool {
	used := false
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			used = true
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				used = true
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
				used = true
			}
		}
	}

	setStr("CHATFLOW_BACKEND_URL", &c.Backend.BaseURL)
	setStr("CHATFLOW_BACKEND_WS_URL", &c.Backend.WSURL)
	setStr("CHATFLOW_API_KEY", &c.Backend.APIKey)
	setStr("CHATFLOW_HTTP_CLIENT", &c.Backend.HTTPClient)
	setStr("CHATFLOW_BACKEND_TIMEOUT", &c.Backend.Timeout)
	setStr("CHATFLOW_HITL_MODE", &c.Chat.Mode)
	setInt("CHATFLOW_TYPING_CHUNK", &c.Chat.Typing.ChunkSize)
	setInt("CHATFLOW_TYPING_INTERVAL_MS", &c.Chat.Typing.IntervalMs)
	setInt("CHATFLOW_SAVE_DEBOUNCE_MS", &c.Chat.SaveDebounceMs)
	setInt("CHATFLOW_APPROVAL_CHECK_MS", &c.Approvals.CheckIntervalMs)
	setInt("CHATFLOW_APPROVAL_TIMEOUT_SECONDS", &c.Approvals.DefaultTimeoutSeconds)
	setStr("CHATFLOW_DB_PATH", &c.Storage.DBPath)
	setBool("CHATFLOW_RETENTION_ENABLED", &c.Retention.Enabled)
	setStr("CHATFLOW_RETENTION_CRON", &c.Retention.Cron)
	setStr("CHATFLOW_RETENTION_PERIOD", &c.Retention.Period)
	setStr("CHATFLOW_LOG_LEVEL", &c.Logging.Level)
	setBool("CHATFLOW_DEBUG_ENABLED", &c.Debug.Enabled)
	setStr("CHATFLOW_DEBUG_ADDR", &c.Debug.Addr)
	return used
}

// ResolveConfigPath picks the config file path: explicit flag first, then
// CHATFLOW_CONFIG, then the conventional ./chatflow.yaml if it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := os.Getenv("CHATFLOW_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("chatflow.yaml"); err == nil {
		return "chatflow.yaml"
	}
	return ""
}

// Validate rejects configurations the engine cannot run with.
func Validate(c Config) error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.WSURL == "" {
		return fmt.Errorf("backend.ws_url is required")
	}
	switch c.Chat.Mode {
	case "auto", "review":
	default:
		return fmt.Errorf("chat.mode must be auto or review, got %q", c.Chat.Mode)
	}
	switch c.Backend.HTTPClient {
	case "", "nethttp", "fasthttp":
	default:
		return fmt.Errorf("backend.http_client must be nethttp or fasthttp, got %q", c.Backend.HTTPClient)
	}
	if _, err := c.Backend.HTTPTimeout(); err != nil {
		return err
	}
	if _, err := c.Retention.RetentionPeriod(); err != nil {
		return err
	}
	if c.Chat.Typing.ChunkSize < 0 || c.Chat.Typing.IntervalMs < 0 {
		return fmt.Errorf("chat.typing values must be non-negative")
	}
	return nil
}
