package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/negotiatorai/negotiator/config"
	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/record"
	"github.com/negotiatorai/negotiator/workflow"
	"github.com/negotiatorai/negotiator/workflow/emit"
	"github.com/negotiatorai/negotiator/workflow/model"
	"github.com/negotiatorai/negotiator/workflow/model/anthropic"
	"github.com/negotiatorai/negotiator/workflow/model/google"
	"github.com/negotiatorai/negotiator/workflow/model/openai"
	"github.com/negotiatorai/negotiator/workflow/store"
	"github.com/negotiatorai/negotiator/workflow/tool"
)

// app is a fully wired engine and the resources it owns.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *workflow.Engine
	events   *emit.BufferedEmitter
	registry *prometheus.Registry
	outbox   *negotiation.OutboxDispatcher

	closers []func(context.Context) error
}

// loadApp loads configuration from path and builds the app.
func loadApp(ctx context.Context, path string) (*app, error) {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.NewLoader(bootstrap).Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildApp(ctx, cfg, newLogger(cfg.Telemetry))
}

// buildApp wires every component named by cfg.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		events:   emit.NewBufferedEmitter(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.NATS.Name))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.onClose(func(context.Context) error { return nc.Drain() })
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	st, err := a.buildStore()
	if err != nil {
		return nil, err
	}
	caps, err := a.buildCapabilities(nc)
	if err != nil {
		return nil, err
	}
	recorder, err := a.buildRecorder(nc)
	if err != nil {
		return nil, err
	}
	emitters, err := a.buildEmitters(ctx)
	if err != nil {
		return nil, err
	}

	gateMode := workflow.GateHold
	if cfg.Gate.Policy == string(workflow.GateExpire) {
		gateMode = workflow.GateExpire
	}
	opts := []workflow.Option{
		workflow.WithStrategy(cfg.Strategy),
		workflow.WithGatePolicy(workflow.GatePolicy{Mode: gateMode, TTL: cfg.Gate.TTL}),
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			MaxDelay:    cfg.Dispatch.MaxDelay,
		}),
		workflow.WithEmitter(emitters),
		workflow.WithMetrics(workflow.NewPrometheusMetrics(a.registry)),
	}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}
	if cfg.Gate.RequireCommittedPrice {
		opts = append(opts, workflow.WithOverrideValidator(negotiation.RequireCommittedPrice))
	}

	a.engine, err = workflow.New(caps, st, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	logger.Debug("Engine ready",
		"store", cfg.Store.Driver,
		"record", cfg.Record.Driver,
		"dispatch", cfg.Dispatch.Kind,
		"llm", cfg.LLM.Provider,
		"gate", cfg.Gate.Policy)
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) buildStore() (store.Store[workflow.Run], error) {
	switch a.cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore[workflow.Run](a.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case "mysql":
		s, err := store.NewMySQLStore[workflow.Run](a.cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	default:
		a.logger.Warn("Using in-memory checkpoint store; runs are lost on restart")
		return store.NewMemStore[workflow.Run](), nil
	}
}

func (a *app) buildCapabilities(nc *nats.Conn) (workflow.Capabilities, error) {
	cfg := a.cfg
	catalogue := negotiation.NewCatalogue(cfg.Reference.Prices, cfg.Reference.SpreadRatio)

	templates, err := negotiation.NewTemplateComposer(nil)
	if err != nil {
		return workflow.Capabilities{}, fmt.Errorf("parse reply templates: %w", err)
	}

	caps := workflow.Capabilities{
		Extractor: negotiation.NewRuleExtractor(catalogue),
		Reference: catalogue,
		Composer:  templates,
	}

	if cfg.Reference.URL != "" {
		caps.Reference = &negotiation.HTTPReference{
			BaseURL:  cfg.Reference.URL,
			APIKey:   cfg.Reference.APIKey,
			Tool:     tool.NewHTTPTool(tool.WithTimeout(cfg.Reference.Timeout)),
			Fallback: catalogue,
		}
	}

	if chat := newChatModel(cfg.LLM); chat != nil {
		if cfg.LLM.Extract {
			caps.Extractor = &negotiation.LLMExtractor{Model: chat, Fallback: caps.Extractor}
		}
		if cfg.LLM.Draft {
			caps.Composer = &negotiation.LLMComposer{Model: chat, Fallback: templates}
		}
	}

	switch cfg.Dispatch.Kind {
	case "webhook":
		caps.Dispatcher = &negotiation.WebhookDispatcher{
			URL:  cfg.Dispatch.WebhookURL,
			Tool: tool.NewHTTPTool(tool.WithTimeout(cfg.Dispatch.Timeout)),
		}
	case "nats":
		if nc == nil {
			return workflow.Capabilities{}, errors.New("nats dispatch requires nats.url")
		}
		caps.Dispatcher = &negotiation.NATSDispatcher{Conn: nc, Subject: cfg.Dispatch.Subject}
	default:
		a.outbox = negotiation.NewOutboxDispatcher()
		caps.Dispatcher = a.outbox
	}
	return caps, nil
}

// newChatModel returns the configured provider's model, or nil for "none".
func newChatModel(cfg config.LLMConfig) model.ChatModel {
	switch cfg.Provider {
	case "google":
		return google.NewChatModel(cfg.APIKey, cfg.Model)
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model)
	case "openai":
		return openai.NewChatModel(cfg.APIKey, cfg.Model)
	default:
		return nil
	}
}

func (a *app) buildRecorder(nc *nats.Conn) (workflow.Recorder, error) {
	cfg := a.cfg.Record
	var fanout record.Fanout

	switch cfg.Driver {
	case "memory":
		fanout = append(fanout, record.NewMemoryRecorder())
	case "sqlite", "mysql":
		var (
			r   *record.SQLRecorder
			err error
		)
		if cfg.Driver == "sqlite" {
			r, err = record.NewSQLiteRecorder(cfg.DSN)
		} else {
			r, err = record.NewMySQLRecorder(cfg.DSN)
		}
		if err != nil {
			return nil, fmt.Errorf("open %s history: %w", cfg.Driver, err)
		}
		a.onClose(func(context.Context) error { return r.Close() })
		fanout = append(fanout, r)
	}

	if cfg.PublishNATS && nc != nil {
		fanout = append(fanout, &record.NATSRecorder{Conn: nc, SubjectPrefix: cfg.SubjectPrefix})
	}

	if len(fanout) == 0 {
		return nil, nil
	}
	return fanout, nil
}

func (a *app) buildEmitters(ctx context.Context) (emit.Emitter, error) {
	emitters := emit.MultiEmitter{a.events}
	tel := a.cfg.Telemetry

	if tel.Events {
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, tel.LogFormat == "json"))
	}
	if tel.Tracing {
		tp, err := newTracerProvider(ctx, tel.ServiceName, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(tp.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer(appName)))
	}
	return emitters, nil
}
