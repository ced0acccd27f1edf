package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"idresolve/internal/ratelimit/metrics"
	"idresolve/internal/ratelimit/models"
	"idresolve/internal/ratelimit/store/bucket"
	"idresolve/pkg/platform/circuit"
	"idresolve/pkg/requestcontext"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// flakyStore fails while down is set and otherwise delegates.
type flakyStore struct {
	down  bool
	calls int
	next  BucketStore
}

func (f *flakyStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	f.calls++
	if f.down {
		return nil, errors.New("redis: connection refused")
	}
	return f.next.Allow(ctx, key, limit, window)
}

type stubLimiter struct {
	result *models.Result
	err    error
	ip     string
}

func (s *stubLimiter) CheckIP(_ context.Context, ip string) (*models.Result, error) {
	s.ip = ip
	return s.result, s.err
}

type RateLimitMiddlewareSuite struct {
	suite.Suite
	next http.Handler
}

func TestRateLimitMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RateLimitMiddlewareSuite))
}

func (s *RateLimitMiddlewareSuite) SetupTest() {
	s.next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (s *RateLimitMiddlewareSuite) serve(m *Middleware) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/identify", nil)
	req = req.WithContext(requestcontext.WithClientIP(req.Context(), "203.0.113.7"))
	w := httptest.NewRecorder()
	m.RateLimit(s.next).ServeHTTP(w, req)
	return w
}

func (s *RateLimitMiddlewareSuite) TestAllowedRequestCarriesHeaders() {
	reset := time.Date(2023, 4, 1, 0, 1, 0, 0, time.UTC)
	limiter := &stubLimiter{result: &models.Result{Allowed: true, Limit: 100, Remaining: 99, ResetAt: reset}}
	reg := prometheus.NewRegistry()
	m := New(limiter, discard, WithMetrics(metrics.NewWith(reg)))

	w := s.serve(m)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("203.0.113.7", limiter.ip)
	s.Equal("100", w.Header().Get("X-RateLimit-Limit"))
	s.Equal("99", w.Header().Get("X-RateLimit-Remaining"))
	s.Equal("1680307260", w.Header().Get("X-RateLimit-Reset"))
	s.Empty(w.Header().Get("X-RateLimit-Status"))
	s.Equal(float64(1), testutil.ToFloat64(m.metrics.Decisions.WithLabelValues(metrics.DecisionAllowed)))
}

func (s *RateLimitMiddlewareSuite) TestExceededReturns429() {
	limiter := &stubLimiter{result: &models.Result{Allowed: false, Limit: 100, ResetAt: time.Now().Add(30 * time.Second), RetryAfter: 30}}
	m := New(limiter, discard)

	w := s.serve(m)
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("30", w.Header().Get("Retry-After"))
	s.Equal("0", w.Header().Get("X-RateLimit-Remaining"))

	var body models.ExceededResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("rate_limit_exceeded", body.Error)
	s.Equal(30, body.RetryAfter)
}

func (s *RateLimitMiddlewareSuite) TestLimiterErrorFailsOpen() {
	m := New(&stubLimiter{err: errors.New("boom")}, discard)
	w := s.serve(m)
	s.Equal(http.StatusOK, w.Code)
	s.Empty(w.Header().Get("X-RateLimit-Limit"))
}

func (s *RateLimitMiddlewareSuite) TestDisabled() {
	limiter := &stubLimiter{}
	m := New(limiter, discard, WithDisabled(true))
	w := s.serve(m)
	s.Equal(http.StatusOK, w.Code)
	s.Empty(limiter.ip, "limiter is never consulted")
}

func (s *RateLimitMiddlewareSuite) TestDegradedHeader() {
	limiter := &stubLimiter{result: &models.Result{Allowed: true, Limit: 5, Remaining: 4, Degraded: true}}
	w := s.serve(New(limiter, discard))
	s.Equal("degraded", w.Header().Get("X-RateLimit-Status"))
}

func TestLimiter_WithoutPrimaryUsesFallback(t *testing.T) {
	l := NewLimiter(nil, bucket.NewInMemoryBucketStore(), 2, time.Minute)
	ctx := context.Background()

	for range 2 {
		result, err := l.CheckIP(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.False(t, result.Degraded)
	}
	result, err := l.CheckIP(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	other, err := l.CheckIP(ctx, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per IP")
}

func TestLimiter_BreakerSwitchesToFallbackAndBack(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{next: bucket.NewInMemoryBucketStore()}
	reg := prometheus.NewRegistry()
	m := metrics.NewWith(reg)
	l := NewLimiter(primary, bucket.NewInMemoryBucketStore(), 1000, time.Minute,
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))),
		WithLimiterMetrics(m),
		WithLimiterLogger(discard),
	)

	result, err := l.CheckIP(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, result.Degraded)

	primary.down = true
	for range 2 {
		result, err = l.CheckIP(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Degraded, "primary errors are served from the fallback")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Degraded))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StoreErrors))

	primary.down = false
	result, err = l.CheckIP(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, result.Degraded, "breaker stays open until enough successes")

	result, err = l.CheckIP(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Degraded))
	assert.Equal(t, 5, primary.calls, "the primary is probed while the breaker is open")
}
