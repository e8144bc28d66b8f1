// Package middleware provides HTTP middleware for the admin API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderToken is an alternative to a bearer Authorization header.
const HeaderToken = "X-Healer-Token"

// =============================================================================
// Token Auth Middleware
// =============================================================================

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// Token is the shared admin token. If empty, every request is allowed.
	Token string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// AuthMiddleware rejects requests that do not carry the admin token.
type AuthMiddleware struct {
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthMiddleware{config: cfg}
}

// Enabled reports whether a token is required.
func (m *AuthMiddleware) Enabled() bool {
	return m.config.Token != ""
}

// Handler returns the middleware handler function. The token is read from
// "Authorization: Bearer <token>" or the X-Healer-Token header.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.config.Token)) != 1 {
			m.config.Logger.Warn("invalid admin token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
				"method", r.Method,
			)
			writeJSONError(w, http.StatusForbidden, "invalid token", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

// =============================================================================
// JSON Error Response
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSONError writes an error in the API's error format.
func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
