package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
)

// Recover turns a panic into a JSON 500 carrying the request ID. It runs
// outside RequestID, so the ID is read from the header RequestID sets.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := r.Header.Get("X-Request-ID")
			m.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Str("request_id", requestID).
				Msg("panic recovered")

			body := map[string]interface{}{
				"code":    "internal_error",
				"message": "An unexpected error occurred",
			}
			if requestID != "" {
				body["request_id"] = requestID
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
		}()

		next.ServeHTTP(w, r)
	})
}
