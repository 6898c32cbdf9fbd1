package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/veldt-lab/veldt/internal/admission"
	"github.com/veldt-lab/veldt/internal/analytics"
	"github.com/veldt-lab/veldt/internal/auth"
	"github.com/veldt-lab/veldt/internal/core/clock"
	corecfg "github.com/veldt-lab/veldt/internal/core/config"
	"github.com/veldt-lab/veldt/internal/core/storage/postgres"
	"github.com/veldt-lab/veldt/internal/ingest"
	"github.com/veldt-lab/veldt/internal/ingestion"
	"github.com/veldt-lab/veldt/internal/migrations"
	"github.com/veldt-lab/veldt/internal/querycache"
	"github.com/veldt-lab/veldt/internal/retention"
	"github.com/veldt-lab/veldt/internal/secrets"
	"github.com/veldt-lab/veldt/internal/server"
)

const envAdminToken = "VELDT_ADMIN_TOKEN"

func main() {
	configPath := flag.String("config", "veldt.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config_path", *configPath, "posture", cfg.Privacy.Posture)

	// 2. Run Database Migrations on a dedicated handle, before the adapter
	// prepares its statement registry against the migrated schema.
	if err := runMigrations(cfg); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Features.BatchWriteEnabled,
		cfg.Features.OptimizedReadsEnabled,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 4. Materialize PII primitives per privacy posture
	hasher, codec, err := secrets.Materialize(secrets.EnvProvider{}, cfg.Privacy.Posture)
	if err != nil {
		slog.Error("Failed to materialize PII secrets", "error", err)
		os.Exit(1)
	}

	adminToken := os.Getenv(envAdminToken)
	if adminToken == "" {
		if cfg.Privacy.Posture == secrets.PostureProduction {
			slog.Error("Operator token required", "env", envAdminToken)
			os.Exit(1)
		}
		slog.Warn("Operator token missing, using development fallback", "env", envAdminToken)
		adminToken = "veldt-development-admin-token"
	}

	clk := clock.System{}

	// 5. Initialize Ingest Buffer
	buffer := ingest.NewBuffer(dbAdapter, clk, ingest.Options{
		BatchSize:     cfg.Buffer.BatchSize,
		MaxPending:    cfg.Buffer.MaxPending,
		FlushInterval: cfg.Buffer.FlushIntervalDuration(),
	})

	// 6. Initialize Query Cache
	cache := querycache.New(clk, cfg.Features.CacheEnabled)

	// 7. Initialize Retention Sweeper
	sweeper := retention.NewSweeper(dbAdapter, cfg.Policies, clk, cfg.Retention.SweepIntervalDuration())

	// 8. Initialize Admission Control
	gate := admission.NewGate(cfg.Admission.FailureThreshold, cfg.Admission.FailureWindowDuration(), clk)
	throttle := admission.NewThrottle(cfg.Admission.IngestRPS, cfg.Admission.IngestBurst, 15*time.Minute)

	// 9. Initialize Services
	ingestionSvc := ingestion.NewService(buffer, hasher, codec, cfg.Server.MaxBodySizeMB)
	analyticsSvc := analytics.NewService(dbAdapter, cache, cfg.Cache.DefaultTTLDuration())
	authSvc := auth.NewService(gate, hasher, adminToken)

	// 10. Initialize Server and mount routes
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), buffer, cfg.Server.Mode)

	collect := srv.Engine.Group("", throttle.Middleware())
	ingestionSvc.RegisterRoutes(collect)

	analyticsSvc.RegisterRoutes(srv.Engine)
	authSvc.RegisterRoutes(srv.Engine)

	admin := srv.Engine.Group("", authSvc.Middleware())
	sweeper.RegisterRoutes(admin)

	// 11. Start Background Workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	runWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(ctx); err != nil {
				slog.Error("Worker stopped with error", "worker", name, "error", err)
			}
		}()
	}

	runWorker("ingest-buffer", buffer.Run)
	runWorker("admission-gate", gate.Run)
	if cfg.Retention.Enabled {
		runWorker("retention-sweeper", sweeper.Run)
	} else {
		slog.Info("Retention sweeper disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Wait for the buffer's final drain and any in-flight sweep to finish.
	cancel()
	workers.Wait()

	slog.Info("Shutdown complete")
}

// runMigrations opens a short-lived connection for schema migration.
func runMigrations(cfg *corecfg.Config) error {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	return migrations.Run(db, cfg.Database.AutoMigrate)
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
