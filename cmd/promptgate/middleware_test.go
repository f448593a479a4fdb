package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestRequestIDGeneratedAndPreserved(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-client-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "req-client-1", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(panicking)

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := Chain(okHandler(), mk("outer"), mk("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestAuthDisabledWhenUnconfigured(t *testing.T) {
	handler := Auth(config.AuthConfig{}, nil, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/prompts", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthAPIKey(t *testing.T) {
	cfg := config.AuthConfig{APIKeys: []string{"secret-key"}}
	handler := Auth(cfg, []string{"/healthz"}, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	r.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	r.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Missing credentials entirely.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/prompts", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health endpoints are exempt.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthJWT(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret"}
	handler := Auth(cfg, nil, zap.NewNop())(okHandler())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "caller",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	badSigned, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	r.Header.Set("Authorization", "Bearer "+badSigned)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// Burst of one: the immediate second request is rejected.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different caller has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 0, 0, zap.NewNop())(okHandler())
	r := httptest.NewRequest(http.MethodGet, "/v1/prompts", nil)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/healthz":                      "/healthz",
		"/v1/prompts":                   "/v1/prompts",
		"/v1/prompts/42":                "/v1/prompts/:id",
		"/v1/prompts/42/completions":    "/v1/prompts/:id/completions",
		"/v1/traces/123456":             "/v1/traces/:id",
		"/v1/eval-runs/rows/9/score":    "/v1/eval-runs/rows/:id/score",
		"/v1/prompts/42/eval-inputs":    "/v1/prompts/:id/eval-inputs",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}
