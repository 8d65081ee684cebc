package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	credentials "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/adapters/gocommand"
	"github.com/goliatone/go-credentials/adapters/prommetrics"
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/httpapi"
	credentialmigrations "github.com/goliatone/go-credentials/migrations"
	"github.com/goliatone/go-credentials/security"
	sqlstore "github.com/goliatone/go-credentials/store/sql"
	"github.com/goliatone/go-credentials/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "credentialsd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	v, err := newViper(*configFile)
	if err != nil {
		return err
	}
	cfg, err := loadDaemonConfig(v)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.Log.Level)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	secrets, err := security.NewAppKeySecretProviderFromString(cfg.Security.AppKey,
		security.WithKeyID(cfg.Security.KeyID),
		security.WithVersion(cfg.Security.KeyVersion),
	)
	if err != nil {
		return err
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = cfg.Database.CacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("cache service: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client,
		sqlstore.WithSecretProvider(secrets),
		sqlstore.WithCacheService(cacheService),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := prommetrics.NewRecorder(registry)
	recorder.OnError(func(err error) {
		logger.Warn("metrics registration failed", "error", err.Error())
	})

	httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}
	svc, clients, err := credentials.Setup(ctx, cfg.Credentials, cfg.Provider, httpClient,
		credentials.WithLoggerProvider(logger),
		credentials.WithLogger(logger),
		credentials.WithMetricsRecorder(recorder),
		credentials.WithConfigProvider(core.NewCfgxConfigProvider(viperConfigLoader{cfg: cfg.Credentials})),
		credentials.WithPersistenceClient(client),
		credentials.WithRepositoryFactory(factory),
	)
	if err != nil {
		return err
	}

	bus, err := gocommand.RegisterCredentialBus(gocommand.NewRegistryAdapter(nil), svc)
	if err != nil {
		return err
	}
	defer bus.Close()

	routes, err := webhooks.NewRoutes(svc, webhooks.RouteOptions{
		Secrets: webhooks.StaticSecret(cfg.Provider.WebhookSecret),
		Logger:  logger.GetLogger("webhooks"),
	})
	if err != nil {
		return err
	}
	webhookHandlers := map[string]http.Handler{}
	for category, dispatcher := range routes.ByCategory() {
		webhookHandlers[category] = dispatcher
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		Service:       svc,
		Logger:        logger.GetLogger("http"),
		APIToken:      cfg.Server.APIToken,
		Webhooks:      webhookHandlers,
		LoginURL:      clients.Identity,
		RedirectURI:   cfg.Server.RedirectURI,
		AfterLoginURL: cfg.Server.AfterLoginURL,
		SecureCookies: cfg.Server.SecureCookies,
		Readiness:     client.DB(),
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(server.Shutdown(shutdownCtx), svc.Close(shutdownCtx))
}

type persistenceConfig struct {
	db databaseConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.db.Debug }
func (c persistenceConfig) GetDriver() string             { return c.db.Driver }
func (c persistenceConfig) GetServer() string             { return c.db.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.db.PingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "credentialsd" }

func openDatabase(ctx context.Context, cfg databaseConfig) (*persistence.Client, error) {
	var (
		dialect       schema.Dialect
		targetDialect string
	)
	switch cfg.Driver {
	case "postgres":
		dialect, targetDialect = pgdialect.New(), credentialmigrations.DialectPostgres
	default:
		dialect, targetDialect = sqlitedialect.New(), credentialmigrations.DialectSQLite
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{db: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = credentialmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != targetDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, credentialmigrations.WithValidationTargets(credentialmigrations.DialectPostgres, credentialmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
