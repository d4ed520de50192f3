package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitalia-ai/vitalia/internal/ratelimit"
)

type fixedLimiter struct {
	allow bool
	err   error
}

func (f fixedLimiter) Allow(context.Context, string) (bool, error) { return f.allow, f.err }
func (f fixedLimiter) Close() error                                { return nil }

func doRequest(t *testing.T, limiter ratelimit.Limiter) *httptest.ResponseRecorder {
	t.Helper()
	handler := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.RemoteAddr = "10.0.0.1:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAllows(t *testing.T) {
	rec := doRequest(t, fixedLimiter{allow: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareDenies(t *testing.T) {
	rec := doRequest(t, fixedLimiter{allow: false})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	rec := doRequest(t, fixedLimiter{allow: false, err: errors.New("limiter down")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	rec := doRequest(t, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:40000"
	assert.Equal(t, "192.168.1.9", ratelimit.IPKeyFunc(req))
}
