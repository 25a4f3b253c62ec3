// Command face-gate-server starts the face gate HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/face-gate/internal/config"
	"github.com/and161185/face-gate/internal/migrate"
	"github.com/and161185/face-gate/internal/recognition"
	"github.com/and161185/face-gate/internal/repository"
	"github.com/and161185/face-gate/internal/repository/postgres"
	"github.com/and161185/face-gate/internal/server/httpapi"
	"github.com/and161185/face-gate/internal/service"
	"github.com/and161185/face-gate/internal/tracker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations for the selected backend, and
// starts the HTTP server with the config reload and sweep loops alongside.
func main() {
	// Flags
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	identifyRPS := flag.Float64("identify-rps", 10, "per-IP rate limit for identify/enroll, 0 disables")
	flag.Parse()

	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	provider := config.NewProvider(*configPath, logger)
	cfg := provider.Snapshot()

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Store.Backend),
		zap.Int("maxFailureAttempts", cfg.Lockout.MaxFailureAttempts),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go provider.Run(ctx)

	// Store backend
	var (
		tr       tracker.Tracker
		sweeper  tracker.Sweeper
		attempts repository.AttemptRepository
	)
	switch cfg.Store.Backend {
	case "postgres":
		if err := migrate.Up(ctx, "postgres", cfg.Store.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()

		pg := tracker.NewPostgres(pool, provider, cfg.FailureTTL(), cfg.Retention())
		tr, sweeper = pg, pg
		attempts = postgres.NewAttemptRepo(&postgres.DB{Pool: pool})

	case "sqlite":
		if err := migrate.Up(ctx, "sqlite", cfg.Store.SQLitePath); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := tracker.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			logger.Fatal("open sqlite", zap.Error(err))
		}
		defer db.Close()

		sl := tracker.NewSQLite(db, provider, cfg.FailureTTL(), cfg.Retention())
		tr, sweeper = sl, sl
		attempts = repository.NewMemoryAttempts()

	default:
		mem := tracker.NewMemory(provider, cfg.FailureTTL())
		tr, sweeper = mem, mem
		attempts = repository.NewMemoryAttempts()
	}

	go tracker.RunSweeper(ctx, logger, cfg.SweepInterval(), sweeper)
	go tracker.RunSweeper(ctx, logger, time.Hour, repository.RetentionPurger{
		Repo:      attempts,
		Retention: cfg.Retention(),
	})

	// Recognition provider
	rec := recognition.NewClient(
		cfg.Recognition.BaseURL,
		cfg.Recognition.APIKey,
		cfg.RecognitionTimeout(),
		cfg.Recognition.MaxRetries,
	)

	// App service
	svc := service.NewFaceAuthService(tr, rec, attempts, provider, service.Options{
		SignKey:       []byte(cfg.Auth.JWTKey),
		AccessTTL:     cfg.AccessTTL(),
		MinConfidence: cfg.Recognition.MinConfidence,
		AutoEnroll:    cfg.Recognition.AutoEnroll,
	}, logger)

	api := httpapi.New(svc, logger, cfg.Auth.AdminToken)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(*identifyRPS),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		// graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
