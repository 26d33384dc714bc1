package portal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/traders-portal/internal/cache"
	"github.com/magabrotheeeer/traders-portal/internal/config"
	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
	"github.com/magabrotheeeer/traders-portal/internal/lib/jwt"
	"github.com/magabrotheeeer/traders-portal/internal/lib/password"
	"github.com/magabrotheeeer/traders-portal/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/metrics"
	"github.com/magabrotheeeer/traders-portal/internal/migrations"
	adminservice "github.com/magabrotheeeer/traders-portal/internal/services/admin"
	billingservice "github.com/magabrotheeeer/traders-portal/internal/services/billing"
	"github.com/magabrotheeeer/traders-portal/internal/services/entitlement"
	"github.com/magabrotheeeer/traders-portal/internal/services/ledger"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

const (
	shutdownTimeout    = 15 * time.Second
	limiterCleanupTick = time.Minute
	limiterIdleTTL     = 10 * time.Minute
)

type App struct {
	server  *http.Server
	logger  *slog.Logger
	db      *storage.Storage
	cache   *cache.Cache
	conn    *amqp.Connection
	ch      *amqp.Channel
	limiter *middlewarectx.UserRateLimiter
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, err
	}
	publisher := rabbitmq.NewPublisher(ch)

	if cfg.PassphraseHash == "" {
		logger.Warn("onboarding passphrase is not configured, every answer grants the lite tier")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("billing webhook secret is not configured, webhooks will be rejected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	resolver := entitlement.NewResolver(db, cacheRedis, publisher,
		password.NewPassphraseMatcher(cfg.PassphraseHash), m, logger, cfg.AccessCacheTTL)
	downloadLedger := ledger.New(db, resolver, cacheRedis, publisher, m, logger, cfg.CounterTTL)
	adminService := adminservice.New(db, resolver, cacheRedis, logger)
	billingService := billingservice.New(db, resolver, publisher, m, logger)
	limiter := middlewarectx.NewUserRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Tokens:      jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Profiles:    db,
		Limiter:     limiter,
		DB:          db,
		Access:      resolver,
		Onboarding:  resolver,
		Downloads:   downloadLedger,
		Admin:       adminService,
		Billing:     billingService,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookKey:  cfg.WebhookSecret,
		WebhookSkew: cfg.SignatureTolerance,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		logger:  logger,
		db:      db,
		cache:   cacheRedis,
		conn:    conn,
		ch:      ch,
		limiter: limiter,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	go a.cleanupLimiter(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

// cleanupLimiter периодически удаляет лимитеры неактивных пользователей.
func (a *App) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Cleanup(limiterIdleTTL); n > 0 {
				a.logger.Debug("rate limiters evicted", slog.Int("count", n))
			}
		}
	}
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
