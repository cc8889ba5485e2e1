package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/workflow/emit"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := workflow.New(caps, st,
//	    workflow.WithGatePolicy(workflow.GatePolicy{Mode: workflow.GateExpire, TTL: 72 * time.Hour}),
//	    workflow.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	strategy     negotiation.StrategyConfig
	retry        RetryPolicy
	gate         GatePolicy
	validator    negotiation.OverrideValidator
	emitter      emit.Emitter
	metrics      *PrometheusMetrics
	recorder     Recorder
	pollInterval time.Duration
	claimTTL     time.Duration
	now          func() time.Time
	newID        func() string
	stages       map[Cursor]Stage
}

func defaultConfig() engineConfig {
	return engineConfig{
		strategy:     negotiation.DefaultStrategyConfig(),
		retry:        DefaultRetryPolicy(),
		gate:         GatePolicy{Mode: GateHold},
		emitter:      emit.NewNullEmitter(),
		pollInterval: 25 * time.Millisecond,
		claimTTL:     2 * time.Minute,
		now:          time.Now,
		newID:        newRunID,
		stages:       map[Cursor]Stage{},
	}
}

// WithStrategy sets the offer evaluation parameters.
//
// Default: negotiation.DefaultStrategyConfig().
func WithStrategy(cfg negotiation.StrategyConfig) Option {
	return func(c *engineConfig) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.strategy = cfg
		return nil
	}
}

// WithRetryPolicy sets the dispatch retry policy.
//
// Default: DefaultRetryPolicy().
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *engineConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		c.retry = p
		return nil
	}
}

// WithGatePolicy sets what happens to runs left at the review gate.
//
// Default: GateHold.
func WithGatePolicy(p GatePolicy) Option {
	return func(c *engineConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.Mode == "" {
			p.Mode = GateHold
		}
		c.gate = p
		return nil
	}
}

// WithOverrideValidator checks edited replies before they are approved.
// A nil validator accepts any non-empty override.
func WithOverrideValidator(v negotiation.OverrideValidator) Option {
	return func(c *engineConfig) error {
		c.validator = v
		return nil
	}
}

// WithEmitter sets the event sink. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		if e == nil {
			return errors.New("emitter cannot be nil")
		}
		c.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithRecorder receives a notification on every status change.
func WithRecorder(r Recorder) Option {
	return func(c *engineConfig) error {
		c.recorder = r
		return nil
	}
}

// WithPollInterval sets how often waiting callers reload a run that another
// caller is driving. Default: 25ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		c.pollInterval = d
		return nil
	}
}

// WithClaimTTL sets how long a dispatch claim is honoured before another
// resume may take it over. Default: 2m.
func WithClaimTTL(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d <= 0 {
			return errors.New("claim ttl must be positive")
		}
		c.claimTTL = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// WithIDGenerator overrides how run IDs are minted when StartInput.RunID is
// empty. Default: ULIDs.
func WithIDGenerator(gen func() string) Option {
	return func(c *engineConfig) error {
		if gen == nil {
			return errors.New("id generator cannot be nil")
		}
		c.newID = gen
		return nil
	}
}

// WithStage replaces the built-in analyze, strategize or draft stage. The
// stage keeps its position in the pipeline.
func WithStage(s Stage) Option {
	return func(c *engineConfig) error {
		if s == nil {
			return errors.New("stage cannot be nil")
		}
		if !s.Name().forward() {
			return fmt.Errorf("stage %q cannot be replaced", s.Name())
		}
		c.stages[s.Name()] = s
		return nil
	}
}
