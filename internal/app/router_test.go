package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-vape/internal/common"
	"github.com/noah-isme/backend-vape/internal/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":    "postgres://localhost:5432/vape?sslmode=disable",
		"REDIS_URL":       "redis://" + mr.Addr() + "/0",
		"AUTH_JWT_SECRET": "secret",
	})
	require.NoError(t, err)

	a := &App{
		Config:   cfg,
		Log:      zerolog.Nop(),
		Redis:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Tasks:    asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}),
		Registry: prometheus.NewRegistry(),
		Validate: validator.New(),
		Mail:     &common.InMemoryEmail{},
	}
	a.closers = append(a.closers, a.Redis.Close, a.Tasks.Close)
	t.Cleanup(func() { _ = a.Close() })
	a.wire()
	return a
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	a := newTestApp(t)
	h, err := a.Router()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(`{"items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"grandTotal":0`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "vape_http_requests_total")
}

func TestReminderUsesConfiguredSender(t *testing.T) {
	a := newTestApp(t)
	r := a.Reminder()
	require.Same(t, a.Tracker, r.Sessions)
	require.Equal(t, "no-reply@localhost", r.From)
}
