package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// RequireAuth returns middleware that checks for a valid bearer token in the
// Authorization header. The dashboard's own auth service owns real permission
// evaluation; this backend only verifies the shared API token it was deployed
// with. Returns 401 Unauthorized if authentication fails.
func RequireAuth(apiToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" {
				log.Println("Auth: No Authorization header present")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Parse Authorization header: "Bearer <token>" (RFC 7235)
			// Use strings.Fields to handle multiple spaces and trim whitespace
			// Bearer scheme is case-insensitive per RFC 7235
			fields := strings.Fields(authHeader)
			if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
				log.Println("Auth: Invalid Authorization header format")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimSpace(strings.Join(fields[1:], " "))
			if !TokenMatches(token, apiToken) {
				log.Println("Auth: Token validation failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenMatches compares a presented token against the configured API token in
// constant time. An empty configured token rejects everything.
func TokenMatches(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
