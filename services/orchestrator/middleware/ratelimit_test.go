package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func withClock(l *RateLimiter, c *fakeClock) *RateLimiter {
	l.now = c.Now
	return l
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewRateLimiter(1, 2, nil), clock)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewRateLimiter(1, 1, nil), clock)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestRateLimiter_DisabledWhenRateIsZero(t *testing.T) {
	l := NewRateLimiter(0, 0, nil)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewRateLimiter(1, 1, nil), clock)

	l.Allow("10.0.0.1")
	clock.Advance(idleLimiterTTL + time.Second)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "10.0.0.1")
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestRateLimiter_MiddlewareRejectsWith429(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	clock := newFakeClock()
	l := withClock(NewRateLimiter(1, 1, metrics), clock)

	router := gin.New()
	router.POST("/v1/chat", l.Middleware(observability.EndpointChatStream), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send().Code)

	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "too many requests")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(
		string(observability.EndpointChatStream), string(observability.ErrorCodeRateLimited))))
}
