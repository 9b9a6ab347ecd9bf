package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-vape/internal/catalog"
	"github.com/noah-isme/backend-vape/internal/checkout"
	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/discount"
	"github.com/noah-isme/backend-vape/internal/events"
	"github.com/noah-isme/backend-vape/internal/health"
	"github.com/noah-isme/backend-vape/internal/obs"
	"github.com/noah-isme/backend-vape/internal/order"
	"github.com/noah-isme/backend-vape/internal/payment"
	"github.com/noah-isme/backend-vape/internal/quote"
	"github.com/noah-isme/backend-vape/internal/ratelimit"
	"github.com/noah-isme/backend-vape/internal/security"
	"github.com/noah-isme/backend-vape/internal/user"
)

// Router builds the public HTTP API.
func (a *App) Router() (http.Handler, error) {
	cfg := a.Config

	limitStore, err := ratelimit.NewStore(a.Redis, "rl:discount")
	if err != nil {
		return nil, err
	}
	discountLimit, err := ratelimit.PerIP(limitStore, cfg.DiscountValidateRate, true)
	if err != nil {
		return nil, err
	}
	checkoutLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: a.Redis, Prefix: "rl:checkout"},
		Config:  ratelimit.Config{Key: ratelimit.CustomerOrIP, Window: cfg.CheckoutRateWindow, Max: cfg.CheckoutRateMax},
		OnError: func(err error) { a.Log.Warn().Err(err).Msg("checkout rate limiter unavailable") },
	}
	idem := common.Idem{R: a.Redis, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, a.Registry)
	}

	catalogHandler := catalog.NewHandler(a.Catalog, a.Users.AccountType)
	quoteHandler := quote.Handler{Pricer: a.Pricer, Validate: a.Validate, MaxBody: cfg.MaxBodyBytes}
	discountHandler := discount.Handler{Resolver: a.Discounts, Validate: a.Validate, MaxBody: cfg.MaxBodyBytes}
	checkoutHandler := checkout.Handler{Svc: a.Checkout, Validate: a.Validate, MaxBody: cfg.MaxBodyBytes}
	orderHandler := order.Handler{Orders: a.Orders, Events: a.Events}
	profileHandler := user.Handler{Service: a.Users}
	eventsHandler := events.Handler{Emitter: a.Events, Pricer: a.Pricer, Validate: a.Validate, MaxBody: cfg.MaxBodyBytes}
	webhook := payment.Webhook{
		Provider:  a.Provider,
		Orders:    a.Orders,
		Spend:     a.UserStore,
		Events:    a.Events,
		Replay:    a.Redis,
		ReplayTTL: cfg.WebhookReplayTTL,
		MaxBody:   cfg.MaxBodyBytes,
	}
	healthHandler := health.Handler{Probes: health.Dependencies(a.DB, a.Redis), Timeout: 500 * time.Millisecond}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(a.Auth.Authenticate)
	r.Use(obs.RequestLogger{Logger: a.Log}.Middleware)
	r.Use(security.Headers{HSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Total-Count", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Post("/pricing/quote", quoteHandler.Quote)
		v.With(discountLimit).Post("/discounts/validate", discountHandler.ValidateCode)
		v.With(checkoutLimit.Middleware, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		v.Post("/events", eventsHandler.Report)

		v.Group(func(authR chi.Router) {
			authR.Use(a.Auth.RequireAuth)
			authR.Get("/me/profile", profileHandler.Me)
			authR.Get("/orders", orderHandler.List)
			authR.Get("/orders/{orderId}", orderHandler.Get)
			authR.Post("/orders/{orderId}/cancel", orderHandler.Cancel)
		})

		v.Post("/webhooks/xendit", webhook.Handle)
	})

	return r, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
