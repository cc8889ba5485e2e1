package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/negotiatorai/negotiator/api"
	"github.com/negotiatorai/negotiator/workflow"
)

func serveCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts down.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg.Server
	handler := api.NewServer(a.engine,
		api.WithHistory(a.events),
		api.WithMetricsGatherer(a.registry),
		api.WithLogger(a.logger),
		api.WithRequestTimeout(cfg.RequestTimeout),
	).Handler()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Negotiator listening", "addr", cfg.Addr, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.sweepLoop(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	<-sweepDone

	closeErr := a.Close(shutdownCtx)
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return closeErr
}

// sweepLoop expires lapsed gates and purges old runs every interval.
func (a *app) sweepLoop(ctx context.Context) {
	interval := a.cfg.Sweep.Interval
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := a.sweep(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}

// sweep runs one expiry and retention pass.
func (a *app) sweep(ctx context.Context) (expired, purged int, err error) {
	expired, err = a.engine.ExpireStale(ctx)
	if err != nil {
		return expired, 0, fmt.Errorf("expire stale runs: %w", err)
	}
	if a.cfg.Sweep.Retention > 0 {
		purged, err = a.engine.PurgeTerminal(ctx, a.cfg.Sweep.Retention)
		if err != nil {
			return expired, purged, fmt.Errorf("purge terminal runs: %w", err)
		}
	}
	if expired > 0 || purged > 0 {
		a.logger.Info("Sweep finished", "expired", expired, "purged", purged)
	}
	return expired, purged, nil
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed review gates and purge old runs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				expired, purged, err := a.sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d, purged %d\n", expired, purged)
				return nil
			})
		},
	}
}

func startCmd(configPath *string) *cobra.Command {
	var in workflow.StartInput
	cmd := &cobra.Command{
		Use:   "start [email-file]",
		Short: "Start a negotiation from an email body (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			in.Offer.Text = body
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				res, err := a.engine.Start(ctx, in)
				return printResult(cmd.OutOrStdout(), res, err)
			})
		},
	}
	cmd.Flags().StringVar(&in.RunID, "id", "", "Run ID (default: generated)")
	cmd.Flags().StringVar(&in.Offer.From, "from", "", "Sender address")
	cmd.Flags().StringVar(&in.Offer.To, "to", "", "Recipient address")
	cmd.Flags().StringVar(&in.Offer.Subject, "subject", "", "Email subject")
	return cmd
}

func approveCmd(configPath *string) *cobra.Command {
	var editFile string
	cmd := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Approve a drafted reply and dispatch it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in workflow.ResumeInput
			if editFile != "" {
				data, err := os.ReadFile(editFile)
				if err != nil {
					return fmt.Errorf("read edited reply: %w", err)
				}
				text := string(data)
				in.Override = &text
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				res, err := a.engine.Resume(ctx, args[0], in)
				return printResult(cmd.OutOrStdout(), res, err)
			})
		},
	}
	cmd.Flags().StringVar(&editFile, "edit", "", "File holding a replacement reply")
	return cmd
}

func showCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the current state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				res, err := a.engine.Get(ctx, args[0])
				return printResult(cmd.OutOrStdout(), res, err)
			})
		},
	}
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, configPath string, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	return errors.Join(runErr, a.Close(context.WithoutCancel(ctx)))
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read email: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read email from stdin: %w", err)
	}
	return string(data), nil
}

// printResult writes res as indented JSON. A result is printed even when
// err is set so failed runs show their failure.
func printResult(w io.Writer, res workflow.Result, err error) error {
	if res.RunID != "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return errors.Join(err, encErr)
		}
	}
	return err
}
