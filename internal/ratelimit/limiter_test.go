package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterAllowsWithinBudget(t *testing.T) {
	l := NewLocalLimiter(&Config{DefaultLimit: 5, DefaultWindow: time.Minute, Enabled: true})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rl, err := l.CheckDefaultLimit(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.Greater(t, rl.Remaining, 0, "request %d should be allowed", i+1)
	}

	rl, err := l.CheckDefaultLimit(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, rl.Remaining)
}

func TestLocalLimiterKeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter(&Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})
	ctx := context.Background()

	rl, err := l.CheckDefaultLimit(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.Greater(t, rl.Remaining, 0)

	rl, err = l.CheckDefaultLimit(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.Zero(t, rl.Remaining)

	rl, err = l.CheckDefaultLimit(ctx, "ip:2.2.2.2")
	require.NoError(t, err)
	assert.Greater(t, rl.Remaining, 0)
}

func TestLocalLimiterDisabledAlwaysAllows(t *testing.T) {
	l := NewLocalLimiter(&Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: false})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rl, err := l.CheckDefaultLimit(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, 1, rl.Remaining)
	}
}

func TestHTTPMiddlewareSetsHeadersAndRejects(t *testing.T) {
	l := NewLocalLimiter(&Config{DefaultLimit: 2, DefaultWindow: time.Minute, Enabled: true})
	handler := HTTPMiddleware(l, true, IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/routing/route", nil)
		req.Header.Set("X-Forwarded-For", "9.9.9.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	send()
	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHTTPMiddlewareDisabledPassesThrough(t *testing.T) {
	l := NewLocalLimiter(&Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})
	handler := HTTPMiddleware(l, false, IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/routing/route", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestHTTPMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := HTTPMiddleware(nil, true, IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/routing/route", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIPBasedKeyPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1:1234", IPBasedKey(req))

	req.Header.Set("X-Real-IP", "5.5.5.5")
	assert.Equal(t, "ip:5.5.5.5", IPBasedKey(req))

	req.Header.Set("X-Forwarded-For", "6.6.6.6")
	assert.Equal(t, "ip:6.6.6.6", IPBasedKey(req))
}

func TestEndpointBasedKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/routing/route", nil)
	assert.Equal(t, "endpoint:POST:/api/routing/route", EndpointBasedKey(req))
}
