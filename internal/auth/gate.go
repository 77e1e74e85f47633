// Package auth guards the agent's HTTP surface with a static bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// ErrEmptySecret is returned when the configured API key is missing.
var ErrEmptySecret = errors.New("api key must not be empty")

// Authorize reports whether the presented token matches the configured secret.
// Empty tokens are rejected even when the secret is also empty, and lengths
// are compared before any byte is inspected.
func Authorize(presented, secret string) bool {
	if len(presented) == 0 || len(presented) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively; anything else yields "".
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Gate admits requests carrying the configured secret.
type Gate struct {
	secret string
}

// NewGate returns a Gate for the given secret. The secret is copied and
// never mutated afterwards, so a Gate is safe for concurrent use.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Gate{secret: strings.Clone(secret)}, nil
}

// Allow reports whether the request carries a valid bearer token.
func (g *Gate) Allow(r *http.Request) bool {
	return Authorize(BearerToken(r.Header.Get("Authorization")), g.secret)
}

// Middleware rejects unauthenticated requests before next runs.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(r) {
			slog.Warn("Rejected unauthenticated request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="node-agent"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": "Authentication required",
				"error":   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
