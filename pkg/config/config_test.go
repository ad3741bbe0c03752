package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "endpoint must not be empty",
			mutate: func(c *Config) { c.Client.Endpoint = "" },
		},
		{
			name:   "heartbeat interval must be > 0",
			mutate: func(c *Config) { c.Client.Heartbeat.Interval = 0 },
		},
		{
			name:   "pong timeout must be shorter than heartbeat interval",
			mutate: func(c *Config) { c.Client.Heartbeat.PongTimeout = c.Client.Heartbeat.Interval },
		},
		{
			name:   "queue max size must be > 0",
			mutate: func(c *Config) { c.Client.Queue.MaxSize = 0 },
		},
		{
			name:   "offline buffer ttl must be > 0",
			mutate: func(c *Config) { c.Client.OfflineBuffer.TTL = 0 },
		},
		{
			name:   "reconnect max delay must be >= base delay",
			mutate: func(c *Config) { c.Client.Reconnect.MaxDelay = 100 * time.Millisecond },
		},
		{
			name:   "jitter factor must be in [0,1]",
			mutate: func(c *Config) { c.Client.Reconnect.JitterFactor = 1.5 },
		},
		{
			name:   "speaking threshold must be > 0",
			mutate: func(c *Config) { c.Mesh.SpeakingThreshold = 0 },
		},
		{
			name:   "audio close grace must be > 0",
			mutate: func(c *Config) { c.Audio.CloseGrace = 0 },
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "jwt secret required when auth enabled",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = ""
			},
		},
		{
			name: "rate limiting messages per second must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.MessagesPerSecond = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Client.OfflineBuffer.MaxSize != 50 {
		t.Errorf("expected default offline buffer size 50, got %d", cfg.Client.OfflineBuffer.MaxSize)
	}
	if cfg.Client.Queue.MaxSize != 100 {
		t.Errorf("expected default queue size 100, got %d", cfg.Client.Queue.MaxSize)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("client:\n  endpoint: wss://signal.example.com/ws\n  reconnect:\n    max_attempts: 7\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Client.Endpoint != "wss://signal.example.com/ws" {
		t.Errorf("expected yaml endpoint, got %q", cfg.Client.Endpoint)
	}
	if cfg.Client.Reconnect.MaxAttempts != 7 {
		t.Errorf("expected max attempts 7, got %d", cfg.Client.Reconnect.MaxAttempts)
	}
	// Untouched values keep defaults
	if cfg.Client.Heartbeat.Interval != 30*time.Second {
		t.Errorf("expected default heartbeat interval, got %v", cfg.Client.Heartbeat.Interval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MESHCALL_ENDPOINT", "wss://env.example.com/ws")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Client.Endpoint != "wss://env.example.com/ws" {
		t.Errorf("expected env override, got %q", cfg.Client.Endpoint)
	}
}
