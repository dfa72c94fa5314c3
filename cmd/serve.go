package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/observability/internal/adapter/redisbus"
	"github.com/xiaot623/gogo/observability/internal/config"
	"github.com/xiaot623/gogo/observability/internal/hub"
	"github.com/xiaot623/gogo/observability/internal/policy"
	"github.com/xiaot623/gogo/observability/internal/repository"
	"github.com/xiaot623/gogo/observability/internal/service"
	"github.com/xiaot623/gogo/observability/internal/telemetry"
	httpserver "github.com/xiaot623/gogo/observability/internal/transport/http"
	"github.com/xiaot623/gogo/observability/internal/transport/http/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the ingest API, session sweeper and live stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	logger = logger.With("component", "serve")

	logger.Info("starting observer",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"session_timeout", cfg.SessionTimeout,
		"auto_summarize", cfg.AutoSummarize)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	rec, err := telemetry.NewGlobal()
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	h := hub.NewHub()
	svc := service.New(db, cfg, policyEngine, rec, h)

	if cfg.RedisURL != "" {
		pub, err := redisbus.Dial(ctx, cfg.RedisURL, cfg.RedisStream, slog.Default())
		if err != nil {
			return err
		}
		defer pub.Close()
		svc.AddBroadcaster(pub)
		logger.Info("redis stream sink enabled", "stream", cfg.RedisStream)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go h.Run(runCtx)
	go svc.RunSessionSweeper(runCtx)

	e := httpserver.NewServer(svc, h, ws.DefaultOptions())

	serveErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("api started", "port", cfg.HTTPPort)

	select {
	case <-runCtx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down observer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown http server gracefully", "error", err)
	}

	logger.Info("observer stopped")
	return nil
}
