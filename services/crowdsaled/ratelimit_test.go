package crowdsaled

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokensale/observability/metrics"
)

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2}, nil, metrics.Crowdsale())
	now := time.Unix(10_000, 0)
	limiter.clockNow = func() time.Time { return now }

	handler := limiter.Middleware("buy")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/buy", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	require.Equal(t, http.StatusOK, call("10.0.0.1:1001"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))
	require.Equal(t, http.StatusOK, call("10.0.0.2:1000"), "other clients keep their own allowance")

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, call("10.0.0.1:1003"), "one token refills per second")
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil, metrics.Crowdsale())
	now := time.Unix(10_000, 0)
	limiter.clockNow = func() time.Time { return now }

	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))
	require.Len(t, limiter.visitors, 1)

	now = now.Add(limiter.idleTTL + time.Second)
	require.True(t, limiter.allow("b"))
	require.Len(t, limiter.visitors, 1)
	require.Contains(t, limiter.visitors, "b")
}

func TestClientID(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"real ip header ignored", map[string]string{"X-Real-IP": "198.51.100.7"}, "192.0.2.1:5555", "192.0.2.1"},
		{"forwarded chain ignored", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"bare remote", nil, "unix-socket", "unix-socket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, clientID(req))
		})
	}
}

func TestServerThrottlesBuys(t *testing.T) {
	h := newHarness(t)
	cfg := h.config()
	cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1}
	srv, err := New(cfg, h.db, h.receipts)
	require.NoError(t, err)
	h.srv, h.handler = srv, srv.Handler()

	require.Equal(t, http.StatusOK, h.buy(t, buyerA, "10").Code)
	rec := h.buy(t, buyerA, "10")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, uint64(1), h.status(t).Purchases)
}

func TestServerThrottlesDespiteForwardingHeaders(t *testing.T) {
	h := newHarness(t)
	cfg := h.config()
	cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1}
	srv, err := New(cfg, h.db, h.receipts)
	require.NoError(t, err)
	h.srv, h.handler = srv, srv.Handler()

	buy := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/buy",
			strings.NewReader(`{"buyer":"`+buyerA.Hex()+`","value":"10"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, buy("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, buy("198.51.100.2"), "rotating headers share the socket allowance")
	require.Equal(t, uint64(1), h.status(t).Purchases)
}

func TestServerTrustsProxyHeadersWhenConfigured(t *testing.T) {
	h := newHarness(t)
	cfg := h.config()
	cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1}
	cfg.TrustProxyHeaders = true
	srv, err := New(cfg, h.db, h.receipts)
	require.NoError(t, err)
	h.srv, h.handler = srv, srv.Handler()

	buy := func(realIP string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/buy",
			strings.NewReader(`{"buyer":"`+buyerA.Hex()+`","value":"10"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", realIP)
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, buy("198.51.100.1"))
	require.Equal(t, http.StatusOK, buy("198.51.100.2"))
	require.Equal(t, http.StatusTooManyRequests, buy("198.51.100.1"))
}
