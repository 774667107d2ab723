package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.Transport.ListenAddress = "" }},
		{"zero connect timeout", func(c *Config) { c.Transport.ConnectTimeout = 0 }},
		{"zero read buffer", func(c *Config) { c.Transport.ReadBufferSize = 0 }},
		{"zero send queue", func(c *Config) { c.Transport.SendQueueSize = 0 }},
		{"zero max peers", func(c *Config) { c.Session.MaxPeers = 0 }},
		{"heartbeat timeout below interval", func(c *Config) {
			c.Session.HeartbeatInterval = 10 * time.Second
			c.Session.HeartbeatTimeout = 5 * time.Second
		}},
		{"bad offset strategy", func(c *Config) { c.Sync.OffsetStrategy = "kalman" }},
		{"empty signal address", func(c *Config) { c.Signal.Address = "" }},
		{"zero signal rate", func(c *Config) { c.Signal.MessagesPerSecond = 0 }},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2.0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.ConnectTimeout != 10*time.Second {
		t.Errorf("connect timeout %v, want 10s", cfg.Transport.ConnectTimeout)
	}
	if cfg.Session.MaxPeers != 8 {
		t.Errorf("max peers %d, want 8", cfg.Session.MaxPeers)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("transport:\n  listen_address: \":7000\"\nsession:\n  max_peers: 3\nsync:\n  offset_strategy: averaged\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.ListenAddress != ":7000" {
		t.Errorf("listen address %q", cfg.Transport.ListenAddress)
	}
	if cfg.Session.MaxPeers != 3 {
		t.Errorf("max peers %d", cfg.Session.MaxPeers)
	}
	if cfg.Sync.OffsetStrategy != "averaged" {
		t.Errorf("offset strategy %q", cfg.Sync.OffsetStrategy)
	}
	// Untouched sections keep their defaults.
	if cfg.Signal.PingInterval != 30*time.Second {
		t.Errorf("ping interval %v", cfg.Signal.PingInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIDIMESH_LOG_LEVEL", "debug")
	t.Setenv("MIDIMESH_MAX_PEERS", "12")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level %q", cfg.Logging.Level)
	}
	if cfg.Session.MaxPeers != 12 {
		t.Errorf("max peers %d", cfg.Session.MaxPeers)
	}
}
