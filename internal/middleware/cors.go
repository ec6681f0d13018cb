package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// CORS allows the configured frontend origin. "*" reflects any origin.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := allowedOrigin
			if origin == "*" {
				if o := r.Header.Get("Origin"); o != "" {
					origin = o
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Access-Control-Allow-Headers, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				log.Debug().Str("path", r.URL.Path).Msg("[CORS] handled preflight")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
