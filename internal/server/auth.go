package server

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"phobos.org.uk/agentbridge/internal/api"
)

// AuthMiddleware returns HTTP middleware that checks a bearer token against a
// bcrypt hash. An empty hash disables the check.
func AuthMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && token != "" && bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) == nil {
				next.ServeHTTP(w, r)
				return
			}

			api.WriteError(w, http.StatusUnauthorized, api.ErrorUnauthorized, "Invalid or missing token")
		})
	}
}

// HashToken returns the bcrypt hash to store in auth.token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
