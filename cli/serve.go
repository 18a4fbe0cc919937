package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/corvid-labs/graphrun/engine"
	grotel "github.com/corvid-labs/graphrun/otel"
	"github.com/corvid-labs/graphrun/registry"
	"github.com/corvid-labs/graphrun/runtime"
	"github.com/corvid-labs/graphrun/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the graphrun HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "127.0.0.1", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Int("max-steps", runtime.DefaultMaxSteps, "Step ceiling per run")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (empty disables export)")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Schedule poll interval")
	cmd.Flags().String("config", "", "Path to graphrun.yaml")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")

	return cmd
}

// resolveServeSettings merges the config file with flags: config file
// values apply first, flags the user set explicitly win.
func resolveServeSettings(cmd *cobra.Command) (server.Config, error) {
	explicitPath, _ := cmd.Flags().GetString("config")
	cfg := server.DefaultConfig()

	path, found, err := server.DiscoverConfigPath(explicitPath)
	if err != nil {
		return server.Config{}, err
	}
	if found {
		cfg, err = server.LoadConfig(path)
		if err != nil {
			return server.Config{}, err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded config from %s\n", path)
	}

	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("cors-origin") {
		cfg.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	if cmd.Flags().Changed("max-body") {
		cfg.MaxBody, _ = cmd.Flags().GetInt64("max-body")
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
	}
	if cmd.Flags().Changed("otlp-endpoint") {
		cfg.OTLPEndpoint, _ = cmd.Flags().GetString("otlp-endpoint")
	}
	if cmd.Flags().Changed("schedule-poll") {
		cfg.SchedulePoll, _ = cmd.Flags().GetDuration("schedule-poll")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveServeSettings(cmd)
	if err != nil {
		return err
	}
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	logger := slog.Default()

	// --- Observability ---
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(cmd.Context(),
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otelapi.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	tracing := grotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("graphrun"))
	metrics, err := grotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("graphrun"))
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	// --- Engine ---
	reg := registry.New()
	registry.RegisterBuiltins(reg)

	eventLog, stopEventLog := newEventLogPipe(logger, eventLogBuffer)
	defer stopEventLog()

	eng := engine.New(engine.Config{
		Registry:              reg,
		MaxSteps:              cfg.MaxSteps,
		EventHandler:          runtime.MultiEventHandler(tracing.Handle, metrics.Handle, eventLog),
		EventEmitterDecorator: grotel.EnrichDecorator(tracing),
		Logger:                logger,
	})
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = eng.Close(drainCtx)
	}()

	for id, def := range cfg.Graphs {
		if _, err := eng.PutGraph(cmd.Context(), id, def); err != nil {
			return fmt.Errorf("loading graph %q from config: %w", id, err)
		}
	}

	// --- HTTP server + scheduler ---
	apiServer := server.NewServer(server.ServerConfig{
		Engine:     eng,
		CORSOrigin: cfg.CORSOrigin,
		MaxBody:    cfg.MaxBody,
		Logger:     logger,
	})

	scheduler, err := server.NewScheduler(server.SchedulerConfig{
		Engine:       eng,
		Store:        apiServer.Schedules(),
		PollInterval: cfg.SchedulePoll,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	}()

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "graphrun listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// eventLogBuffer bounds the serve event-log channel. Events beyond it are
// dropped rather than stalling the executor.
const eventLogBuffer = 256

// newEventLogPipe routes runtime events through a buffered channel into a
// slog sink, keeping log I/O off the execution goroutines. The returned
// stop function closes the channel and waits for the drain to finish, so
// it must be called only after no more events can be emitted.
func newEventLogPipe(logger *slog.Logger, buffer int) (runtime.EventHandler, func()) {
	ch := make(chan runtime.Event, buffer)
	done := make(chan struct{})
	sink := runtime.LogHandler(logger)

	go func() {
		defer close(done)
		for e := range ch {
			sink(e)
		}
	}()

	stop := func() {
		close(ch)
		<-done
	}
	return runtime.ChannelEventHandler(ch), stop
}
