package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(m *AuthMiddleware, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_NoToken_AllowsAll(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{})

	rec := serve(m, nil)

	assert.False(t, m.Enabled())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["code"])
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer nope")
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }},
		{"bearer lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer s3cret") }},
		{"token header", func(r *http.Request) { r.Header.Set(HeaderToken, "s3cret") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, serve(m, tc.setup).Code)
		})
	}
}

func TestAuthMiddleware_NonBearerSchemeFallsBackToHeader(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{Token: "s3cret"})

	rec := serve(m, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic abc")
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
