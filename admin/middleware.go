package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader is accepted as an alternative to Authorization: Bearer
const TokenHeader = "X-Tablewatch-Token"

// AuthMiddleware requires the configured token on every request. An empty
// token disables authentication.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(TokenHeader)
			if provided == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeFailure(w, http.StatusUnauthorized, "missing authentication header")
					return
				}
				scheme, value, found := strings.Cut(authHeader, " ")
				if !found || !strings.EqualFold(scheme, "Bearer") {
					writeFailure(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				provided = value
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeFailure(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
