// Command helpdesk runs the multi-tenant support ticketing service.
package main

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

	"github.com/d9705996/helpdesk/internal/api"
	"github.com/d9705996/helpdesk/internal/api/handler"
	"github.com/d9705996/helpdesk/internal/api/middleware"
	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/config"
	"github.com/d9705996/helpdesk/internal/db"
	"github.com/d9705996/helpdesk/internal/health"
	"github.com/d9705996/helpdesk/internal/observability"
	"github.com/d9705996/helpdesk/internal/seed"
	"github.com/d9705996/helpdesk/internal/ticket"
	"github.com/d9705996/helpdesk/internal/user"
	"github.com/d9705996/helpdesk/internal/version"
	"github.com/d9705996/helpdesk/internal/worker"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "helpdesk",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer, obs.Meter())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	log.Info("starting helpdesk", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver, "env", cfg.App.Env)

	// --- Database ------------------------------------------------------------
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Auth core -----------------------------------------------------------
	issuer, err := auth.NewIssuer(cfg.JWT.Secret,
		auth.WithIssuerName(cfg.JWT.Issuer),
		auth.WithTTLs(cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL),
	)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	hasher := auth.NewHasher(cfg.Password.BcryptCost)
	users := user.NewStore(gormDB)
	refresh := auth.NewRefreshStore(gormDB)
	svc := auth.NewService(users, issuer, refresh, hasher,
		auth.WithRotation(cfg.JWT.RotateRefresh),
		auth.WithPolicy(auth.PasswordPolicy{MinLength: cfg.Password.MinLength, MaxLength: cfg.Password.MaxLength}),
		auth.WithRecorder(metrics),
		auth.WithLogger(log),
	)

	// --- Seed ----------------------------------------------------------------
	if err := seed.Run(ctx, gormDB, hasher, seed.Options{
		AdminEmail:    cfg.App.SeedAdminEmail,
		AdminPassword: cfg.App.SeedAdminPassword,
		DemoData:      cfg.App.SeedDemoData,
	}, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	// --- Refresh token sweep -------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}
	wq, err := worker.New(worker.Options{
		Driver:      cfg.DB.Driver,
		Pool:        pool,
		Concurrency: cfg.Worker.Concurrency,
		Interval:    cfg.Worker.SweepInterval,
		Sweeper:     refresh,
		Recorder:    metrics,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	render := respond.New(log, cfg.App.Development())
	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit, log)
	if err != nil {
		return err
	}
	defer closeLimiter()
	proxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Routes{
		Health:    health.New(db.NewPinger(gormDB)),
		Auth:      handler.NewAuthHandler(svc, render),
		Tickets:   handler.NewTicketHandler(ticket.NewStore(gormDB), render),
		Users:     handler.NewUserHandler(users, svc, render),
		Authn:     middleware.NewAuthenticator(auth.NewResolver(issuer, users), render),
		Render:    render,
		AuthLimit: middleware.RateLimit(limiter, render, log, middleware.WithTrustedProxies(proxies)),
		Metrics:   promhttp.Handler(),
	})
	registerSPA(mux, log)

	root := api.Handler(mux, api.ServerOptions{
		Logger:         log,
		Render:         render,
		Observer:       metrics,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(root, "helpdesk"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

// newLimiter shares counters through Redis when REDIS_URL is set and keeps
// them in process otherwise. The returned func releases the Redis client.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, log *slog.Logger) (middleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(cfg.Requests, cfg.Window), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable; rate limiter will fail open until it recovers", "err", err)
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Error("redis close error", "err", err)
		}
	}
	return middleware.NewRedisLimiter(client, cfg.Requests, cfg.Window), closeClient, nil
}
