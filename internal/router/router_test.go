package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/handler"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/middleware"
	"github.com/dripline/dripline/internal/service"
)

type counterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *counterStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *counterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (s *counterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return time.Minute, nil
}

// unsubscribeContacts only supports Unsubscribe.
type unsubscribeContacts struct {
	service.ContactStore
	mu    sync.Mutex
	calls int
}

func (c *unsubscribeContacts) Unsubscribe(ctx context.Context, email string, at time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return true, nil
}

func newTestRouter() http.Handler {
	cfg := &config.Config{}
	cfg.Security.CronSecret = "cron-secret"
	log := logger.Nop()

	h := handler.New(nil, nil, log, cfg, nil, nil, nil)
	return New(h, middleware.New(nil, log, cfg), cfg)
}

func TestInternalRoutesRequireSecret(t *testing.T) {
	r := newTestRouter()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/sequence/run"},
		{http.MethodPost, "/api/v1/contacts/registered"},
		{http.MethodGet, "/api/v1/contacts/a@x.com/deliveries"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestUnsubscribeRoutes(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unsubscribe", strings.NewReader("List-Unsubscribe=One-Click")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing token", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unsubscribe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/unsubscribe", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMiddlewareStack(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestOneClickUnsubscribeIsNotRateLimited(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.UnsubscribeLimit = 30
	cfg.Security.RateLimiting.UnsubscribeWindow = time.Minute
	cfg.Unsubscribe = config.UnsubscribeConfig{Secret: "test-secret", Issuer: "dripline", Audience: "unsubscribe"}
	log := logger.Nop()

	tokens, err := auth.NewUnsubscribeTokenService(cfg.Unsubscribe)
	require.NoError(t, err)
	contacts := &unsubscribeContacts{}
	unsub := service.NewUnsubscribeService(contacts, tokens, log)
	store := &counterStore{counts: map[string]int64{}}

	h := handler.New(nil, nil, log, cfg, nil, unsub, nil)
	r := New(h, middleware.New(store, log, cfg), cfg)

	// Mailbox providers send one-click requests from shared egress addresses.
	const requests = 45
	for i := 0; i < requests; i++ {
		token, err := tokens.Issue("lead@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/unsubscribe?token="+url.QueryEscape(token), strings.NewReader("List-Unsubscribe=One-Click"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "209.85.220.41:51234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	assert.Equal(t, requests, contacts.calls)

	// The human-facing page keeps its per-IP limit.
	var last int
	for i := 0; i < 31; i++ {
		req := httptest.NewRequest(http.MethodGet, "/unsubscribe", nil)
		req.RemoteAddr = "209.85.220.41:51234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
