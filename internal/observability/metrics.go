package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records the helpdesk's counters. Auth and sweep outcomes are OTel
// instruments; HTTP traffic uses client_golang collectors directly.
type Metrics struct {
	authAttempts metric.Int64Counter
	tokensSwept  metric.Int64Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the OTel instruments on meter and registers the HTTP
// collectors with reg.
func NewMetrics(reg prometheus.Registerer, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helpdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	var err error
	m.authAttempts, err = meter.Int64Counter("helpdesk.auth.attempts",
		metric.WithDescription("Auth flow invocations by flow and outcome."),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth attempts counter: %w", err)
	}
	m.tokensSwept, err = meter.Int64Counter("helpdesk.refresh_tokens.swept",
		metric.WithDescription("Expired or revoked refresh tokens deleted by the sweeper."),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("tokens swept counter: %w", err)
	}

	if err := registerAll(reg, m.httpRequests, m.httpDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

// AuthAttempt counts one auth flow outcome.
func (m *Metrics) AuthAttempt(flow, outcome string) {
	m.authAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
}

// TokensSwept adds n deleted refresh tokens.
func (m *Metrics) TokensSwept(n int64) {
	if n > 0 {
		m.tokensSwept.Add(context.Background(), n)
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
