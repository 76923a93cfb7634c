package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowline-dev/flowline/internal/agents"
	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/logging"
	"github.com/flowline-dev/flowline/internal/scheduler"
	"github.com/flowline-dev/flowline/internal/server"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/internal/streaming"
	"github.com/flowline-dev/flowline/internal/validation"
	"github.com/flowline-dev/flowline/pkg/mcp"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	if err := run(*mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "flowline: %v\n", err)
		os.Exit(1)
	}
}

func run(mcpMode bool) error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	validator, err := validation.NewFlowValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	hub := streaming.NewMemoryHub()
	runner := buildRunner(cfg)
	eng := engine.NewEngine(st, hub, validator, runner, logger, nil)

	if n, err := eng.RecoverInterrupted(ctx); err != nil {
		logger.Warn("interrupted execution recovery failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("marked interrupted executions failed", slog.Int("count", n))
	}

	if mcpMode {
		return serveMCP(ctx, eng, st, hub, logger)
	}

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(st, eng, logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed schedule recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	api := server.NewServer(server.Deps{
		Store:  st,
		Engine: eng,
		Hub:    hub,
		Logger: logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowline listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveMCP runs the stdio MCP transport, forwarding execution updates to the
// sessions that started them.
func serveMCP(ctx context.Context, eng *engine.Engine, st store.Store, hub streaming.Hub, logger *slog.Logger) error {
	flowSrv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Engine: eng,
		Store:  st,
		Hub:    hub,
		Logger: logger,
	})

	go func() {
		if err := flowSrv.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("mcp watch stopped", slog.String("error", err.Error()))
		}
	}()

	return flowSrv.Serve(ctx)
}

// buildRunner picks the agent backend: an external HTTP delegate when
// configured, otherwise the OpenAI Chat Completions API.
func buildRunner(cfg Config) engine.AgentRunner {
	if cfg.AgentEndpoint != "" {
		return agents.NewHTTPRunner(cfg.AgentEndpoint, nil, nil)
	}
	return agents.NewOpenAIRunner(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
