package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/charmntreats/addressvault/internal/auth"
	"github.com/charmntreats/addressvault/internal/config"
	"github.com/charmntreats/addressvault/internal/event"
	handler "github.com/charmntreats/addressvault/internal/handler/http"
	"github.com/charmntreats/addressvault/internal/localstore"
	"github.com/charmntreats/addressvault/internal/repository"
	"github.com/charmntreats/addressvault/internal/repository/guarded"
	"github.com/charmntreats/addressvault/internal/repository/local"
	"github.com/charmntreats/addressvault/internal/repository/postgres"
	"github.com/charmntreats/addressvault/internal/repository/rawsql"
	"github.com/charmntreats/addressvault/internal/service"
	"github.com/charmntreats/addressvault/migrations"
	"github.com/charmntreats/addressvault/pkg/breaker"
	"github.com/charmntreats/addressvault/pkg/database"
	"github.com/charmntreats/addressvault/pkg/health"
	pkgkafka "github.com/charmntreats/addressvault/pkg/kafka"
	"github.com/charmntreats/addressvault/pkg/middleware"
	"github.com/charmntreats/addressvault/pkg/tracing"
)

// App wires together all dependencies and runs the address service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	secondary      *rawsql.AddressRepository
	localStore     *localstore.Store
	producer       *pkgkafka.Producer
	rateLimiter    *middleware.RateLimiter
	service        *service.AddressService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Only the local tier is required to start; remote tiers that cannot be
// reached are left in place and the coordinator falls back past them.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "address",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Local tier. This one must work.
	backend, err := localstore.Open(ctx, cfg.LocalStoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a.localStore = localstore.NewStore(backend, cfg.LocalStoreQuotaBytes)
	if err := a.localStore.Ping(ctx); err != nil {
		return nil, fmt.Errorf("local store unusable: %w", err)
	}
	logger.Info("local store ready", slog.String("dsn", cfg.LocalStoreDSN))

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("local_store", a.localStore.Ping)

	// Remote tiers, in the order they are tried.
	var remotes []service.Tier
	if cfg.PrimaryEnabled && !cfg.StartLocalOnly {
		repo, err := a.openPrimary(ctx)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, service.Tier{Name: postgres.TierName, Store: a.guard(postgres.TierName, repo)})
		healthHandler.RegisterNonCritical(postgres.TierName, a.pool.Ping)
	}
	if cfg.SecondaryDSN != "" && !cfg.StartLocalOnly {
		repo, err := rawsql.NewAddressRepository(cfg.SecondaryDSN)
		if err != nil {
			return nil, fmt.Errorf("create secondary tier: %w", err)
		}
		a.secondary = repo
		if err := prometheus.Register(database.NewSQLStatsCollector(repo.Stats, rawsql.TierName)); err != nil {
			logger.Warn("secondary pool metrics not registered", slog.String("error", err.Error()))
		}
		remotes = append(remotes, service.Tier{Name: rawsql.TierName, Store: a.guard(rawsql.TierName, repo)})
		healthHandler.RegisterNonCritical(rawsql.TierName, repo.Ping)
	}

	// Kafka producer. Events are best-effort.
	var events service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	localOnly := service.NewLocalOnlyBreaker(cfg.StartLocalOnly || len(remotes) == 0, logger)
	a.service = service.NewAddressService(
		remotes,
		local.NewAddressRepository(a.localStore),
		localOnly,
		events,
		logger,
	)
	healthHandler.RegisterNonCritical("remote_tiers", func(context.Context) error {
		if !localOnly.Active() {
			return nil
		}
		reason, at := localOnly.Reason()
		return fmt.Errorf("serving from local tier since %s: %s", at.Format(time.RFC3339), reason)
	})

	validator := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway)
	a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(a.service, validator.TokenValidator(), healthHandler, logger, handler.RouterConfig{
		CORS:              corsCfg,
		RateLimiter:       a.rateLimiter,
		PprofEnabled:      cfg.PprofEnabled,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("address service wired",
		slog.Int("remote_tiers", len(remotes)),
		slog.Bool("local_only", localOnly.Active()),
	)
	ok = true
	return a, nil
}

// openPrimary connects the pgx pool and applies migrations. A database that
// is down at startup yields a lazy pool so the tier can still be tried.
func (a *App) openPrimary(ctx context.Context) (*postgres.AddressRepository, error) {
	cfg := a.cfg
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.Connect(ctx, &pgCfg, a.logger)
	if err != nil {
		a.logger.Warn("primary tier unreachable at startup, continuing without migrations",
			slog.String("host", cfg.PostgresHost),
			slog.String("error", err.Error()),
		)
		pool, err = database.NewLazyPostgresPool(&pgCfg)
		if err != nil {
			return nil, fmt.Errorf("create primary pool: %w", err)
		}
		a.pool = pool
	} else {
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")
	}

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, postgres.TierName); err != nil {
		a.logger.Warn("primary pool metrics not registered", slog.String("error", err.Error()))
	}
	return postgres.NewAddressRepository(a.pool), nil
}

func (a *App) guard(tier string, next repository.AddressStore) *guarded.AddressStore {
	cfg := breaker.DefaultConfig(tier)
	cfg.Timeout = a.cfg.TierBreakerTimeout
	cfg.FailureRatio = a.cfg.TierBreakerFailureRatio
	cfg.MinRequests = a.cfg.TierBreakerMinRequests
	return guarded.New(tier, next, cfg, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// rate limiter, Kafka producer, then the tiers.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.rateLimiter != nil {
		a.rateLimiter.Close()
	}

	// 3. Flush Kafka.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close the tiers.
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var errs []error
	if a.secondary != nil {
		if err := a.secondary.Close(); err != nil {
			a.logger.Error("secondary tier close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.secondary = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.localStore != nil {
		if err := a.localStore.Close(); err != nil {
			a.logger.Error("local store close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.localStore = nil
	}
	return errors.Join(errs...)
}
