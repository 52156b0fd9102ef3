package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/handler"
	"github.com/dripline/dripline/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Unsubscribe links are public; the signed token is the credential.
	// One-click POSTs come from mailbox providers that share a few egress
	// addresses, so only the human page is limited per IP.
	window := cfg.Security.RateLimiting.UnsubscribeWindow
	if window <= 0 {
		window = time.Minute
	}
	unsubscribeRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "unsubscribe",
		Limit:  cfg.Security.RateLimiting.UnsubscribeLimit,
		Window: window,
		KeyFn:  mw.IPKey,
	})
	mux.HandleFunc("POST /unsubscribe", h.UnsubscribeOneClick)
	mux.Handle("GET /unsubscribe", unsubscribeRateLimit(http.HandlerFunc(h.UnsubscribePage)))

	// Opt-in from landing pages
	optInRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "opt_in",
		Limit:  10,
		Window: time.Minute,
		KeyFn:  mw.IPKey,
	})
	mux.Handle("POST /api/v1/contacts", optInRateLimit(http.HandlerFunc(h.OptIn)))

	// Internal routes (require the cron secret)
	internal := mw.RequireCronSecret
	mux.Handle("POST /api/v1/contacts/registered", internal(http.HandlerFunc(h.MarkRegistered)))
	mux.Handle("GET /api/v1/contacts/{email}/deliveries", internal(http.HandlerFunc(h.ListDeliveries)))
	mux.Handle("POST /api/v1/sequence/run", internal(http.HandlerFunc(h.RunSequence)))

	// Apply middleware stack
	var handler http.Handler = mux

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
