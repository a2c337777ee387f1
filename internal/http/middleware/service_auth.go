package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ServiceAuth guards /internal/ endpoints with the shared service token used
// by the worker fleet.
func ServiceAuth(serviceToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/internal/") {
				next.ServeHTTP(w, r)
				return
			}

			if serviceToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.Header.Get("X-Service-Token"))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(serviceToken)) != 1 {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
