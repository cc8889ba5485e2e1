// Package config loads the negotiator service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/negotiatorai/negotiator/negotiation"
)

// Config is the complete service configuration.
type Config struct {
	// Env names the deployment, e.g. "development" or "production".
	Env string `yaml:"env"`

	Server    ServerConfig               `yaml:"server"`
	Store     StoreConfig                `yaml:"store"`
	Record    RecordConfig               `yaml:"record"`
	Strategy  negotiation.StrategyConfig `yaml:"strategy"`
	Reference ReferenceConfig            `yaml:"reference"`
	Gate      GateConfig                 `yaml:"gate"`
	Dispatch  DispatchConfig             `yaml:"dispatch"`
	LLM       LLMConfig                  `yaml:"llm"`
	NATS      NATSConfig                 `yaml:"nats"`
	Telemetry TelemetryConfig            `yaml:"telemetry"`
	Sweep     SweepConfig                `yaml:"sweep"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestTimeout bounds a single start or approve call, including waits
	// on concurrent callers.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	// Driver is memory, sqlite or mysql.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a go-sql-driver DSN for mysql.
	DSN string `yaml:"dsn"`
}

// RecordConfig selects where negotiation history is written.
type RecordConfig struct {
	// Driver is none, memory, sqlite or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// PublishNATS also publishes status events when NATS is configured.
	PublishNATS bool `yaml:"publish_nats"`
	// SubjectPrefix for published status events.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ReferenceConfig configures market price lookups.
type ReferenceConfig struct {
	// URL of a JSON price service. Empty uses the built-in catalogue only.
	URL         string             `yaml:"url"`
	APIKey      string             `yaml:"api_key"`
	SpreadRatio float64            `yaml:"spread_ratio"`
	Prices      map[string]float64 `yaml:"prices"`
	Timeout     time.Duration      `yaml:"timeout"`
}

// GateConfig configures the review gate.
type GateConfig struct {
	// Policy is hold or expire.
	Policy string        `yaml:"policy"`
	TTL    time.Duration `yaml:"ttl"`
	// RequireCommittedPrice rejects edits that drop the committed price.
	RequireCommittedPrice bool `yaml:"require_committed_price"`
}

// DispatchConfig selects how approved replies leave the system.
type DispatchConfig struct {
	// Kind is outbox, webhook or nats.
	Kind        string        `yaml:"kind"`
	WebhookURL  string        `yaml:"webhook_url"`
	Subject     string        `yaml:"subject"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LLMConfig selects an optional language model for extraction and drafting.
type LLMConfig struct {
	// Provider is none, google, anthropic or openai.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// Extract uses the model for fact extraction, falling back to rules.
	Extract bool `yaml:"extract"`
	// Draft uses the model to compose replies, falling back to templates.
	Draft bool `yaml:"draft"`
}

// NATSConfig configures the NATS connection. An empty URL disables NATS.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// TelemetryConfig configures logging and tracing.
type TelemetryConfig struct {
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// Events writes workflow events to the log.
	Events bool `yaml:"events"`
	// Tracing records workflow events as OpenTelemetry spans.
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"service_name"`
}

// SweepConfig configures the background gate-expiry and retention sweep.
type SweepConfig struct {
	// Interval between sweeps when serving. Zero disables the loop.
	Interval time.Duration `yaml:"interval"`
	// Retention keeps terminal checkpoints this long. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns a development configuration: in-memory store,
// template drafting and an in-memory outbox.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  90 * time.Second,
		},
		Store:    StoreConfig{Driver: "memory"},
		Record:   RecordConfig{Driver: "memory", SubjectPrefix: "negotiator.status"},
		Strategy: negotiation.DefaultStrategyConfig(),
		Reference: ReferenceConfig{
			SpreadRatio: negotiation.DefaultSpreadRatio,
			Timeout:     10 * time.Second,
		},
		Gate: GateConfig{Policy: "hold"},
		Dispatch: DispatchConfig{
			Kind:        "outbox",
			Subject:     "negotiator.outbound",
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Timeout:     15 * time.Second,
		},
		LLM:  LLMConfig{Provider: "none"},
		NATS: NATSConfig{Name: "negotiator"},
		Telemetry: TelemetryConfig{
			LogFormat:   "text",
			LogLevel:    "info",
			Events:      true,
			ServiceName: "negotiator",
		},
		Sweep: SweepConfig{Interval: time.Minute},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or mysql, got %q", c.Store.Driver)
	}
	switch c.Record.Driver {
	case "none", "memory":
	case "sqlite", "mysql":
		if c.Record.DSN == "" {
			return fmt.Errorf("record.dsn is required for driver %s", c.Record.Driver)
		}
	default:
		return fmt.Errorf("record.driver must be none, memory, sqlite or mysql, got %q", c.Record.Driver)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	switch c.Gate.Policy {
	case "hold":
	case "expire":
		if c.Gate.TTL <= 0 {
			return fmt.Errorf("gate.ttl must be positive when gate.policy is expire")
		}
	default:
		return fmt.Errorf("gate.policy must be hold or expire, got %q", c.Gate.Policy)
	}
	switch c.Dispatch.Kind {
	case "outbox":
	case "webhook":
		if c.Dispatch.WebhookURL == "" {
			return fmt.Errorf("dispatch.webhook_url is required for webhook dispatch")
		}
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for nats dispatch")
		}
	default:
		return fmt.Errorf("dispatch.kind must be outbox, webhook or nats, got %q", c.Dispatch.Kind)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	switch c.LLM.Provider {
	case "none":
	case "google", "anthropic", "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("llm.provider must be none, google, anthropic or openai, got %q", c.LLM.Provider)
	}
	if c.Record.PublishNATS && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when record.publish_nats is set")
	}
	switch c.Telemetry.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("telemetry.log_format must be text or json, got %q", c.Telemetry.LogFormat)
	}
	if c.Sweep.Interval < 0 || c.Sweep.Retention < 0 {
		return fmt.Errorf("sweep durations must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
//
// Recognised variables: ENV, DATABASE_URL, GOOGLE_API_KEY, GEMINI_MODEL_NAME,
// ANTHROPIC_API_KEY, OPENAI_API_KEY, NEGOTIATOR_ADDR, NEGOTIATOR_NATS_URL,
// NEGOTIATOR_LOG_FORMAT, NEGOTIATOR_LOG_LEVEL, NEGOTIATOR_WEBHOOK_URL,
// NEGOTIATOR_REFERENCE_URL and NEGOTIATOR_REFERENCE_API_KEY.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	set("ENV", &c.Env)
	set("NEGOTIATOR_ADDR", &c.Server.Addr)
	set("NEGOTIATOR_NATS_URL", &c.NATS.URL)
	set("NEGOTIATOR_LOG_FORMAT", &c.Telemetry.LogFormat)
	set("NEGOTIATOR_LOG_LEVEL", &c.Telemetry.LogLevel)
	set("NEGOTIATOR_WEBHOOK_URL", &c.Dispatch.WebhookURL)
	set("NEGOTIATOR_REFERENCE_URL", &c.Reference.URL)
	set("NEGOTIATOR_REFERENCE_API_KEY", &c.Reference.APIKey)

	if url := getenv("DATABASE_URL"); url != "" {
		driver, dsn, err := ParseDatabaseURL(url)
		if err != nil {
			return err
		}
		c.Store.Driver, c.Store.DSN = driver, dsn
	}

	keys := map[string]string{
		"google":    "GOOGLE_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	if key := getenv("GOOGLE_API_KEY"); key != "" && c.LLM.Provider == "none" {
		c.LLM.Provider = "google"
		c.LLM.Extract, c.LLM.Draft = true, true
	}
	if name, ok := keys[c.LLM.Provider]; ok && c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv(name)
	}
	if c.LLM.Provider == "google" {
		set("GEMINI_MODEL_NAME", &c.LLM.Model)
	}
	return nil
}

// ParseDatabaseURL splits a DATABASE_URL into a store driver and DSN.
// "sqlite:///path.db" selects sqlite; "mysql://<dsn>" selects mysql.
func ParseDatabaseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(url, "sqlite:///"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "mysql://"):
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q", redact(url))
	}
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i] + "://..."
	}
	return "..."
}
