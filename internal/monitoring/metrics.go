package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamcore_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PlacementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcore_placements_total",
			Help: "Referral placements by outcome",
		},
		[]string{"outcome"},
	)

	RewardClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcore_reward_claims_total",
			Help: "Reward claims by outcome",
		},
		[]string{"outcome"},
	)

	PayoutRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcore_payout_requests_total",
			Help: "Payout requests by outcome",
		},
		[]string{"outcome"},
	)

	RecomputeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamcore_recompute_runs_total",
			Help: "Aggregate reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)
)

// Outcome labels shared by the domain counters.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// RequestMetrics observes every request's count and latency. Uses the route
// template, not the raw path, to keep label cardinality bounded.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
