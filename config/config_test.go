package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "hold", cfg.Gate.Policy)
	assert.Equal(t, "outbox", cfg.Dispatch.Kind)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 0.9, cfg.Strategy.CounterFactor)
	assert.Equal(t, 1.5, cfg.Strategy.RejectThreshold)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(*Config) {}, ""},
		{"unknown store", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, "store.dsn"},
		{"record mysql without dsn", func(c *Config) { c.Record.Driver = "mysql" }, "record.dsn"},
		{"bad counter factor", func(c *Config) { c.Strategy.CounterFactor = 1.5 }, "strategy"},
		{"expire without ttl", func(c *Config) { c.Gate.Policy = "expire" }, "gate.ttl"},
		{"expire with ttl", func(c *Config) { c.Gate.Policy = "expire"; c.Gate.TTL = time.Hour }, ""},
		{"webhook without url", func(c *Config) { c.Dispatch.Kind = "webhook" }, "webhook_url"},
		{"nats dispatch without url", func(c *Config) { c.Dispatch.Kind = "nats" }, "nats.url"},
		{"zero attempts", func(c *Config) { c.Dispatch.MaxAttempts = 0 }, "max_attempts"},
		{"llm without key", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.api_key"},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "cohere" }, "llm.provider"},
		{"bad log format", func(c *Config) { c.Telemetry.LogFormat = "xml" }, "log_format"},
		{"publish without nats", func(c *Config) { c.Record.PublishNATS = true }, "publish_nats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "negotiator.yaml")
	content := `
env: staging
store:
  driver: sqlite
  dsn: ./negotiator.db
strategy:
  counter_factor: 0.85
  below_band_action: counter
gate:
  policy: expire
  ttl: 72h
dispatch:
  kind: webhook
  webhook_url: https://mail.example/send
  base_delay: 50ms
reference:
  prices:
    acme analytics: 42
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0.85, cfg.Strategy.CounterFactor)
	assert.Equal(t, 1.5, cfg.Strategy.RejectThreshold, "unset fields keep defaults")
	assert.EqualValues(t, "counter", cfg.Strategy.BelowBandAction)
	assert.Equal(t, 72*time.Hour, cfg.Gate.TTL)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatch.BaseDelay)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 42.0, cfg.Reference.Prices["acme analytics"])
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "negotiator.yaml")
	cfg := DefaultConfig()
	cfg.Gate.Policy = "expire"
	cfg.Gate.TTL = 48 * time.Hour

	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Gate, loaded.Gate)
	assert.Equal(t, cfg.Dispatch, loaded.Dispatch)
}

func TestApplyEnv(t *testing.T) {
	t.Run("original deployment variables", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.ApplyEnv(envMap(map[string]string{
			"ENV":               "production",
			"DATABASE_URL":      "sqlite:///./negotiator_ai.db",
			"GOOGLE_API_KEY":    "g-key",
			"GEMINI_MODEL_NAME": "gemini-2.5-pro",
		}))
		require.NoError(t, err)

		assert.Equal(t, "production", cfg.Env)
		assert.Equal(t, "sqlite", cfg.Store.Driver)
		assert.Equal(t, "./negotiator_ai.db", cfg.Store.DSN)
		assert.Equal(t, "google", cfg.LLM.Provider)
		assert.Equal(t, "g-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
		assert.True(t, cfg.LLM.Extract)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("explicit provider keeps its own key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Provider = "anthropic"
		require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
			"GOOGLE_API_KEY":    "g-key",
			"ANTHROPIC_API_KEY": "a-key",
		})))
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, "a-key", cfg.LLM.APIKey)
	})

	t.Run("mysql database url", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
			"DATABASE_URL":        "mysql://user:pw@tcp(db:3306)/negotiator?parseTime=true",
			"NEGOTIATOR_NATS_URL": "nats://nats:4222",
		})))
		assert.Equal(t, "mysql", cfg.Store.Driver)
		assert.Equal(t, "user:pw@tcp(db:3306)/negotiator?parseTime=true", cfg.Store.DSN)
		assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	})

	t.Run("unsupported database url", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.ApplyEnv(envMap(map[string]string{"DATABASE_URL": "postgres://secret@host/db"}))
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "secret")
	})
}

func TestLoader(t *testing.T) {
	t.Run("explicit missing file fails", func(t *testing.T) {
		l := NewLoader(nil)
		_, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("file then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))

		l := NewLoader(nil)
		l.getenv = envMap(map[string]string{"NEGOTIATOR_LOG_FORMAT": "json"})
		cfg, err := l.Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Server.Addr)
		assert.Equal(t, "json", cfg.Telemetry.LogFormat)
	})

	t.Run("invalid result rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gate:\n  policy: forever\n"), 0o600))
		_, err := NewLoader(nil).Load(path)
		assert.Error(t, err)
	})
}
