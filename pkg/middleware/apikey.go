package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ApiKeyAuthentication Require "Authorization: Bearer <key>" on the wrapped routes. An empty key leaves the routes
// open.
func ApiKeyAuthentication(key string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := r.Header.Get("Authorization")
			if !strings.HasPrefix(authorization, "Bearer ") || len(authorization) < 8 {
				Errorf("authorization header must have 'Bearer' prefix").write(w, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(authorization[7:]), []byte(key)) != 1 {
				Errorf("invalid API key").write(w, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
