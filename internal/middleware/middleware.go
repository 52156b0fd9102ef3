package middleware

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/logger"
)

// RateLimitStore is the counter backend for RateLimit. *database.Redis
// implements it.
type RateLimitStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb     RateLimitStore
	log     *logger.Logger
	cfg     *config.Config
	proxies []netip.Prefix
}

// New creates a new Middleware instance
func New(rdb RateLimitStore, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb:     rdb,
		log:     log,
		cfg:     cfg,
		proxies: parseTrustedProxies(cfg.Security.TrustedProxies, log),
	}
}

// parseTrustedProxies accepts bare addresses and CIDRs. Invalid entries are
// logged and skipped.
func parseTrustedProxies(entries []string, log *logger.Logger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			log.Warn().Str("entry", entry).Msg("ignoring invalid trusted proxy")
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}
