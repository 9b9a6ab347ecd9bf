// Package app builds the shared dependency graph used by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/auth"
	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/checkout"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/config"
	"github.com/noah-isme/backend-vape/internal/db"
	"github.com/noah-isme/backend-vape/internal/discount"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/lock"
	"github.com/noah-isme/backend-vape/internal/notify"
	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/payment"
	"github.com/noah-isme/backend-vape/internal/pricing"
	"github.com/noah-isme/backend-vape/internal/quote"
	"github.com/noah-isme/backend-vape/internal/resilience"
	"github.com/noah-isme/backend-vape/internal/tracking"
	"github.com/noah-isme/backend-vape/internal/user"
)

// App holds the long-lived clients and domain services. Close releases them.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Tasks    *asynq.Client
	Registry *prometheus.Registry
	Validate *validator.Validate
	Mail     common.EmailSender

	Auth      auth.Middleware
	Catalog   *catalog.Service
	Users     *user.Service
	UserStore *user.Store
	Discounts *discount.Resolver
	Orders    *order.Store
	Events    *events.Bus
	Tracker   *tracking.Tracker
	Pricer    *quote.Pricer
	Payments  *payment.Service
	Provider  payment.Provider
	Checkout  *checkout.Service

	closers []func() error
}

// New connects to Postgres and Redis and assembles every service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
		Validate: validator.New(validator.WithRequiredStructEnabled()),
		Mail:     common.NopEmailSender{},
	}

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, a.Registry)
	resilience.MustRegisterMetrics(a.Registry)

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, Tracing: cfg.TracingEnabled})
	if err != nil {
		return nil, err
	}
	a.DB = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	rdb, err := newRedis(ctx, cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("parse redis url for tasks: %w", err)
	}
	a.Tasks = asynq.NewClient(redisOpt)
	a.closers = append(a.closers, a.Tasks.Close)

	a.wire()
	return a, nil
}

func newRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if cfg.TracingEnabled {
		if err := redisotel.InstrumentTracing(client); err != nil {
			log.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			log.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (a *App) wire() {
	cfg := a.Config

	a.Auth = auth.Middleware{Verifier: auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthClockSkew)}

	products := catalog.NewCachedStore(catalog.NewStore(a.DB), a.Redis, cfg.CatalogCacheTTL, a.Log)
	a.Catalog = catalog.NewService(products)

	a.UserStore = user.NewStore(a.DB)
	a.Users = user.NewService(a.UserStore, a.Log)

	a.Discounts = &discount.Resolver{
		Codes:           discount.NewStore(a.DB),
		Referrals:       a.UserStore,
		ReferralPercent: cfg.ReferralPercent,
	}
	a.Orders = order.NewStore(a.DB)

	a.Tracker = &tracking.Tracker{
		Redis: a.Redis,
		Tasks: a.Tasks,
		Delay: cfg.AbandonmentDelay,
		TTL:   cfg.AbandonmentTTL,
	}
	a.Events = &events.Bus{
		Store: events.NewStore(a.DB),
		Notifiers: []events.Notifier{
			a.Tracker,
			notify.EmailNotifier{
				Mail:     a.Mail,
				Enabled:  cfg.NotifyEmailEnabled,
				From:     cfg.ReminderFromEmail,
				OrderURL: cfg.StorefrontOrderURL,
				Topics:   cfg.NotifyEmailTopics,
			},
		},
	}

	a.Pricer = &quote.Pricer{
		Catalog:  a.Catalog,
		Profiles: a.Users,
		Codes:    a.Discounts,
		Engine:   pricing.NewEngine(cfg.PricingRules),
	}

	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("xendit").
		WithLogger(a.Log)
	a.Provider = payment.NewXendit(payment.XenditConfig{
		SecretKey:     cfg.XenditSecretKey,
		CallbackToken: cfg.XenditCallbackToken,
		BaseURL:       cfg.XenditBaseURL,
		Timeout:       cfg.OutboundTimeout,
		MaxAttempts:   cfg.RetryMaxAttempts,
		RetryBase:     cfg.RetryBase,
	}, breaker)
	a.Payments = &payment.Service{
		Provider:   a.Provider,
		Orders:     a.Orders,
		Currency:   cfg.Currency,
		SuccessURL: cfg.PaymentSuccessURL,
		FailureURL: cfg.PaymentFailureURL,
		Duration:   cfg.InvoiceDuration,
	}

	a.Checkout = &checkout.Service{
		Pricer:    a.Pricer,
		Names:     a.Catalog,
		Orders:    a.Orders,
		DB:        a.DB,
		Payments:  a.Payments,
		Discounts: &discount.Consumer{DB: a.DB},
		Events:    a.Events,
		Locks:     lock.Locker{R: a.Redis, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.CheckoutLockTTL},
		LockTTL:   cfg.CheckoutLockTTL,
		Currency:  cfg.Currency,
	}
}

// Reminder returns the task handler that mails abandoned cart reminders.
func (a *App) Reminder() *tracking.Reminder {
	return &tracking.Reminder{
		Sessions: a.Tracker,
		Mail:     a.Mail,
		From:     a.Config.ReminderFromEmail,
		CartURL:  a.Config.StorefrontCartURL,
		Log:      a.Log.With().Str("component", "reminder").Logger(),
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
