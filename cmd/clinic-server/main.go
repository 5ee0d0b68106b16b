package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/domain/reporting"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notify"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinic-server",
		Short:         "Clinic management API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "clinic-server").Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// backend is the storage chosen by STORAGE_DRIVER. pool is nil for the
// memory driver.
type backend struct {
	store clinic.Store
	pool  *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage; data is lost on exit")
		return &backend{store: clinic.NewMemoryStore()}, nil
	}
	pc := db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
	if cfg.DBLogQueries {
		pc.QueryLog = &logger
	}
	pool, err := db.NewPool(ctx, pc)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	return &backend{store: clinic.NewPGStore(pool), pool: pool}, nil
}

// openPostgres is for commands that only make sense against a durable store.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.StorageDriver != config.StoragePostgres {
		return nil, fmt.Errorf("this command needs STORAGE_DRIVER=%s", config.StoragePostgres)
	}
	return db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed")
			return runServer(seed)
		},
	}
	cmd.Flags().Bool("seed", false, "Load demo data into an empty store before serving")
	return cmd
}

func runServer(seed bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("AUTH_MODE=development: requests without a token act as Admin. Do not use in production.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampling,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Storage
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	var (
		migrator *db.Migrator
		pending  int
	)
	if be.pool != nil {
		migrator = db.NewMigrator(be.pool, migrations.FS)
		statuses, err := migrator.Status(ctx)
		if err != nil {
			return fmt.Errorf("read migration status: %w", err)
		}
		if pending = db.Pending(statuses); pending > 0 {
			logger.Warn().Int("pending", pending).Msg("database has pending migrations; run `clinic-server migrate up`")
		}
	}

	// Redis backs sessions and the shared rate limit when configured.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	// Access gate
	var sessions auth.SessionStore = auth.NewMemorySessionStore()
	if rdb != nil {
		sessions = auth.NewRedisSessionStore(rdb, "clinic:session:")
	}
	var jwtResolver *auth.JWTResolver
	if cfg.AuthJWTSecret != "" {
		jwtResolver = &auth.JWTResolver{
			SigningKey: []byte(cfg.AuthJWTSecret),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		}
	}
	gate := auth.NewGate(sessions, jwtResolver, cfg.SessionTTL)

	// Appointment events
	metrics := telemetry.NewMetrics()
	notifiers := notify.Multi{notify.NewLogNotifier(logger, nil), metrics}
	if cfg.KafkaBrokers != "" {
		kn, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kn.Close()
		notifiers = append(notifiers, kn)
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing appointment events to kafka")
	}

	// Services
	registry := clinic.NewService(be.store)
	users := clinic.NewUserService(be.store, gate, logger)
	scheduler := scheduling.NewService(be.store, notifiers, scheduling.Policy{
		AllowPastBookings: cfg.AllowPastBookings,
		OpenHour:          cfg.ClinicOpenHour,
		CloseHour:         cfg.ClinicCloseHour,
		SlotMinutes:       cfg.SlotMinutes,
	}, logger)
	aggregator := reporting.NewAggregator(be.store)

	if seed {
		report, err := seedDemo(ctx, be.store, adminFromConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info().Interface("seeded", report).Msg("demo data loaded")
	} else if pending == 0 {
		if _, err := ensureAdmin(ctx, be.store, adminFromConfig(cfg), logger); err != nil {
			return err
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(rateLimitCfg)
	if rdb != nil {
		limiter = middleware.NewRedisLimiter(rdb, rateLimitCfg)
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(metrics.Middleware())
	e.Use(middleware.Audit(logger))
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		e.Use(auth.DevAuthMiddleware(gate))
	} else {
		e.Use(auth.Authenticate(gate))
	}
	e.Use(middleware.RateLimit(limiter, rateLimitCfg, logger))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"storage": cfg.StorageDriver,
		})
	})
	if be.pool != nil {
		e.GET("/health/db", db.HealthHandler(be.pool, migrator))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "storage": config.StorageMemory})
		})
	}
	e.GET("/metrics", metrics.Handler(), auth.RequireRole(auth.RoleAdmin))

	// API routes
	apiV1 := e.Group("/api/v1")
	clinic.NewHandler(registry, users, cfg.TLSEnabled() || cfg.IsProduction()).RegisterRoutes(apiV1)
	scheduling.NewHandler(scheduler).RegisterRoutes(apiV1)
	reporting.NewHandler(aggregator).RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, "clinic-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("tls", cfg.TLSEnabled()).Msg("starting server")
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
