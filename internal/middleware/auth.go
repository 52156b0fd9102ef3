package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireCronSecret guards internal endpoints with the shared bearer secret
// from security.cron_secret. With no secret configured the endpoints are
// closed.
func (m *Middleware) RequireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := m.cfg.Security.CronSecret
		if secret == "" {
			http.Error(w, `{"error":{"code":"not_configured","message":"Internal endpoints are disabled"}}`, http.StatusServiceUnavailable)
			return
		}

		var token string
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = strings.TrimSpace(parts[1])
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			m.log.Debug().Str("path", r.URL.Path).Str("client_ip", m.ClientIP(r)).Msg("internal endpoint rejected")
			http.Error(w, `{"error":{"code":"unauthorized","message":"Authentication required"}}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
