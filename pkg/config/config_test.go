package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	eff, err := LoadEffective("")
	if err != nil {
		t.Fatalf("LoadEffective with defaults: %v", err)
	}
	if eff.Source != "defaults" {
		t.Fatalf("source = %q, want defaults", eff.Source)
	}
	c := eff.Config
	if c.Chat.Mode != "review" {
		t.Fatalf("default mode = %q", c.Chat.Mode)
	}
	if c.Chat.Typing.ChunkSize != 3 {
		t.Fatalf("default chunk size = %d", c.Chat.Typing.ChunkSize)
	}
	if d, err := c.Backend.HTTPTimeout(); err != nil || d != 120*time.Second {
		t.Fatalf("default http timeout = %v, %v", d, err)
	}
	if d, err := c.Retention.RetentionPeriod(); err != nil || d != 30*24*time.Hour {
		t.Fatalf("default retention period = %v, %v", d, err)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatflow.yaml")
	data := []byte(`
backend:
  base_url: "https://backend.internal"
  timeout: "45s"
chat:
  mode: "auto"
  typing:
    chunk_size: 5
retention:
  enabled: true
  period: "168h"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	eff, err := LoadEffective(path)
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if eff.Source != "config" {
		t.Fatalf("source = %q, want config", eff.Source)
	}
	c := eff.Config
	if c.Backend.BaseURL != "https://backend.internal" {
		t.Fatalf("base url = %q", c.Backend.BaseURL)
	}
	if c.Chat.Mode != "auto" || c.Chat.Typing.ChunkSize != 5 {
		t.Fatalf("chat = %+v", c.Chat)
	}
	if d, _ := c.Backend.HTTPTimeout(); d != 45*time.Second {
		t.Fatalf("timeout = %v", d)
	}
	if d, _ := c.Retention.RetentionPeriod(); d != 168*time.Hour {
		t.Fatalf("retention period = %v", d)
	}
	// Untouched keys keep their defaults.
	if c.Backend.WSURL != "ws://localhost:8080/ws" {
		t.Fatalf("ws url = %q", c.Backend.WSURL)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatflow.yaml")
	if err := os.WriteFile(path, []byte("chat:\n  mode: \"auto\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATFLOW_HITL_MODE", "review")
	t.Setenv("CHATFLOW_TYPING_CHUNK", "7")

	eff, err := LoadEffective(path)
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if eff.Source != "config+env" {
		t.Fatalf("source = %q, want config+env", eff.Source)
	}
	if eff.Config.Chat.Mode != "review" {
		t.Fatalf("mode = %q, env should win", eff.Config.Chat.Mode)
	}
	if eff.Config.Chat.Typing.ChunkSize != 7 {
		t.Fatalf("chunk size = %d", eff.Config.Chat.Typing.ChunkSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Backend.BaseURL = "" }},
		{"empty ws url", func(c *Config) { c.Backend.WSURL = "" }},
		{"bad mode", func(c *Config) { c.Chat.Mode = "yolo" }},
		{"bad http client", func(c *Config) { c.Backend.HTTPClient = "curl" }},
		{"bad timeout", func(c *Config) { c.Backend.Timeout = "eleven" }},
		{"bad retention period", func(c *Config) { c.Retention.Period = "a fortnight" }},
		{"negative chunk size", func(c *Config) { c.Chat.Typing.ChunkSize = -1 }},
	}
	for _, tc := range cases {
		c := Defaults()
		tc.mutate(&c)
		if err := Validate(c); err == nil {
			t.Fatalf("%s: Validate accepted invalid config", tc.name)
		}
	}
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Validate rejected defaults: %v", err)
	}
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv("CHATFLOW_CONFIG", "/etc/chatflow/env.yaml")
	if got := ResolveConfigPath("/tmp/flag.yaml", true); got != "/tmp/flag.yaml" {
		t.Fatalf("flag path = %q", got)
	}
	if got := ResolveConfigPath("", false); got != "/etc/chatflow/env.yaml" {
		t.Fatalf("env path = %q", got)
	}
}
