package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-vape/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	AuthJWTSecret string
	AuthIssuer    string
	AuthAudience  string
	AuthClockSkew time.Duration

	PricingRules    pricing.Rules
	ReferralPercent decimal.Decimal
	Currency        string

	XenditSecretKey     string
	XenditCallbackToken string
	XenditBaseURL       string
	InvoiceDuration     time.Duration
	PaymentSuccessURL   string
	PaymentFailureURL   string

	CatalogCacheTTL      time.Duration
	IdempotencyTTL       time.Duration
	CheckoutLockTTL      time.Duration
	LockRetryBackoff     time.Duration
	WebhookReplayTTL     time.Duration
	DiscountValidateRate string
	CheckoutRateMax      int
	CheckoutRateWindow   time.Duration

	AbandonmentDelay  time.Duration
	AbandonmentTTL    time.Duration
	WorkerConcurrency int
	ReminderFromEmail string
	StorefrontCartURL string

	NotifyEmailEnabled bool
	NotifyEmailTopics  map[string]bool
	StorefrontOrderURL string

	OutboundTimeout     time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	TracingEnabled   bool
	OTLPEndpoint     string
	TracingSampling  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),

		AuthJWTSecret: k.String("AUTH_JWT_SECRET"),
		AuthIssuer:    strings.TrimSpace(k.String("AUTH_ISSUER")),
		AuthAudience:  strings.TrimSpace(k.String("AUTH_AUDIENCE")),
		AuthClockSkew: parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),

		Currency: valueOrDefault(k.String("CURRENCY_CODE"), "IDR"),

		XenditSecretKey:     k.String("XENDIT_SECRET_KEY"),
		XenditCallbackToken: k.String("XENDIT_CALLBACK_TOKEN"),
		XenditBaseURL:       valueOrDefault(k.String("XENDIT_BASE_URL"), "https://api.xendit.co"),
		InvoiceDuration:     parseDuration(k.String("PAYMENT_INVOICE_DURATION"), "24h"),
		PaymentSuccessURL:   strings.TrimSpace(k.String("PAYMENT_SUCCESS_URL")),
		PaymentFailureURL:   strings.TrimSpace(k.String("PAYMENT_FAILURE_URL")),

		CatalogCacheTTL:      parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CheckoutLockTTL:      parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		WebhookReplayTTL:     parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		DiscountValidateRate: valueOrDefault(k.String("DISCOUNT_VALIDATE_RATE"), "20-M"),
		CheckoutRateMax:      parseInt(k.String("CHECKOUT_RATE_MAX"), 10),
		CheckoutRateWindow:   parseDuration(k.String("CHECKOUT_RATE_WINDOW"), "1m"),

		AbandonmentDelay:  parseDuration(k.String("ABANDONMENT_DELAY"), "2h"),
		AbandonmentTTL:    parseDuration(k.String("ABANDONMENT_TTL"), "168h"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		ReminderFromEmail: valueOrDefault(k.String("REMINDER_FROM_EMAIL"), "no-reply@localhost"),
		StorefrontCartURL: strings.TrimSpace(k.String("STOREFRONT_CART_URL")),

		NotifyEmailEnabled: parseBoolDefault(k.String("NOTIFY_EMAIL_ENABLED"), true),
		NotifyEmailTopics:  parseToggles(k.String("NOTIFY_EMAIL_TOPICS")),
		StorefrontOrderURL: strings.TrimSpace(k.String("STOREFRONT_ORDER_URL")),

		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "vape"),
		TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	rules, err := pricing.DefaultRules().ParseOverrides(k.String("PRICING_RULE_PERCENTS"))
	if err != nil {
		return nil, fmt.Errorf("PRICING_RULE_PERCENTS: %w", err)
	}
	cfg.PricingRules = rules

	referral, err := decimal.NewFromString(valueOrDefault(k.String("REFERRAL_PERCENT"), "10"))
	if err != nil || referral.IsNegative() || referral.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.New("REFERRAL_PERCENT must be a number between 0 and 100")
	}
	cfg.ReferralPercent = referral

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AuthJWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseToggles reads "topic=bool" pairs, e.g. "order.paid=true,order.expired=false".
func parseToggles(value string) map[string]bool {
	out := map[string]bool{}
	for _, part := range splitAndTrim(value) {
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			out[strings.TrimSpace(key)] = true
			continue
		}
		out[strings.TrimSpace(key)] = parseBoolDefault(raw, true)
	}
	return out
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
