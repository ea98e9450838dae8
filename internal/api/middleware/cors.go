package middleware

import (
	"net/http"

	"diamond-auction/pkg/logger"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, X-User-ID"
)

// CORSWithLogging is the permissive CORS policy of the websocket edge. The
// REST service uses echo's own CORS middleware with the same headers.
func CORSWithLogging(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			log.Debug("CORS request",
				"method", r.Method,
				"path", r.URL.Path,
				"origin", origin,
				"user_agent", r.Header.Get("User-Agent"))

			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
