package middleware

import (
	"net/http"
	"strings"
)

type TokenValidator func(token string, r *http.Request) bool

// BearerAuth accepts the token from "Authorization: Bearer" or the apikey
// header. Missing tokens get 401, rejected ones 403.
func BearerAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if !validator(token, r) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(r.Header.Get("apikey"))
}
