package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/msaidizi/internal/config"
	"github.com/jkaninda/msaidizi/internal/gateway/httpapi"
	"github.com/jkaninda/msaidizi/internal/gradient"
	"github.com/jkaninda/msaidizi/internal/observability"
	"github.com/jkaninda/msaidizi/internal/provision"
	"github.com/jkaninda/msaidizi/internal/scheduler"
	"github.com/jkaninda/msaidizi/internal/storage"
	pgstore "github.com/jkaninda/msaidizi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/msaidizi/internal/storage/sqlite"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverPort       string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the provisioning API server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `msaidizi --config path` and `msaidizi server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverPort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer wires config → storage → provider → orchestrator →
// scheduler → HTTP gateway and blocks until a signal arrives.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig(goutils.Env("MSAIDIZI_CONFIG", serverConfigPath), logger)
	if err != nil {
		return err
	}
	if serverPort != "" {
		cfg.Server.Addr = serverPort
	}
	if cfg.Provider.Token == "" {
		return fmt.Errorf("provider token is required (set DIGITALOCEAN_TOKEN or provider.token)")
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()

	// Storage (SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("storage initialized", slog.String("driver", store.Driver()))

	// Provider client, instrumented when metrics are enabled.
	gclient := newGradientClient(cfg, logger)
	var provider provision.Provider = gclient
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer)
	}

	// Readiness gates on the dependencies provisioning needs: the
	// durable store and the provider platform credentials.
	if obs != nil && obs.Health != nil && cfg.Observability != nil && cfg.Observability.Health != nil {
		if cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("database", store.Ping)
		}
		if cfg.Observability.Health.IncludeProvider {
			obs.Health.AddCheck("provider", gclient.VerifyCredentials)
		}
	}

	// Orchestrator with warmed cache: the store is authoritative after
	// a restart, so records load before the first request.
	var provMetrics *provision.Metrics
	if obs != nil && obs.Metrics != nil {
		provMetrics = provision.NewMetrics(obs.Metrics.Registry)
	}
	cache := provision.NewCache()
	orch := provision.NewOrchestrator(
		provider,
		storage.ProvisionStores(store),
		cache,
		provision.Config{
			PollInterval:    cfg.Provisioning.PollInterval(),
			WaitCeiling:     cfg.Provisioning.WaitCeiling(),
			ReconcileBudget: cfg.Provisioning.ReconcileBudget(),
		},
		logger,
		provMetrics,
	)
	if err := orch.WarmCache(context.Background()); err != nil {
		logger.Warn("warming cache from store", slog.String("error", err.Error()))
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconciliation sweep (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var sweepMetrics *scheduler.Metrics
		if obs != nil && obs.Metrics != nil {
			sweepMetrics = scheduler.NewMetrics(obs.Metrics.Registry)
		}
		sweeper := scheduler.New(store.Agents(), orch, sweepMetrics, logger, cfg.Scheduler)
		stopSweeper, err := sweeper.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting reconciliation sweep: %w", err)
		}
		defer stopSweeper()
	}

	// HTTP gateway.
	gw := buildGateway(cfg, orch, store, obs, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// loadConfig reads the config file, or falls back to runnable defaults
// when none exists at the default location.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("no config file found, using defaults", slog.String("path", path))
		return config.Default(), nil
	}
	logger.Info("loading config", slog.String("path", path))
	return config.Load(path)
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case storage.DriverPostgres:
		pgCfg := pgstore.Config{DSN: cfg.Storage.Postgres.DSN}
		if cfg.Storage.Postgres.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		}
		if cfg.Storage.Postgres.MaxIdleConns > 0 {
			pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		}
		if cfg.Storage.Postgres.ConnMaxLifetimeS > 0 {
			pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
		}
		db, err := pgstore.Open(pgCfg, logger)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(db), nil
	default:
		path := cfg.DatabasePath()
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
			path = cfg.Storage.SQLite.Path
		}
		journalMode := ""
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{Path: path, JournalMode: journalMode}, logger)
	}
}

// newGradientClient builds the Gradient AI platform client from config.
func newGradientClient(cfg *config.Config, logger *slog.Logger) *gradient.Client {
	opts := []gradient.Option{}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, gradient.WithBaseURL(cfg.Provider.BaseURL))
	}
	if cfg.Provider.Region != "" {
		opts = append(opts, gradient.WithRegion(cfg.Provider.Region))
	}
	if cfg.Provider.ModelUUID != "" {
		opts = append(opts, gradient.WithModelUUID(cfg.Provider.ModelUUID))
	}
	if cfg.Provider.ProjectID != "" {
		opts = append(opts, gradient.WithProjectID(cfg.Provider.ProjectID))
	}
	if cfg.Provider.EmbeddingModelUUID != "" {
		opts = append(opts, gradient.WithEmbeddingModelUUID(cfg.Provider.EmbeddingModelUUID))
	}
	if cfg.Provider.MaxTries > 0 {
		opts = append(opts, gradient.WithMaxTries(uint(cfg.Provider.MaxTries)))
	}
	return gradient.NewClient(cfg.Provider.Token, logger, opts...)
}

// buildGateway assembles the HTTP gateway with its observability hooks.
func buildGateway(cfg *config.Config, orch *provision.Orchestrator, store storage.Store, obs *observability.Observability, logger *slog.Logger) *httpapi.Gateway {
	httpCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		EnableDocs: cfg.Server.EnableDocs,
		APIKeys:    cfg.Server.APIKeyMapping(),
	}
	if obs != nil {
		httpCfg.Metrics = obs.Metrics
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	// The knowledge endpoints talk to the platform directly; they get
	// their own uninstrumented client since the Provider interface only
	// covers the provisioning calls.
	knowledge := newGradientClient(cfg, logger)

	return httpapi.NewGateway(httpCfg, orch, store.Sessions(), logger).
		WithKnowledgeService(knowledge)
}
