// Package observability bootstraps structured logging (slog), the
// OpenTelemetry SDK and the Prometheus collectors for the helpdesk process.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// instrumentationName scopes every tracer and meter the helpdesk creates.
const instrumentationName = "github.com/d9705996/helpdesk"

// Provider owns the tracer and meter providers for the process.
type Provider struct {
	traces *sdktrace.TracerProvider
	meters *sdkmetric.MeterProvider
	log    *slog.Logger
}

// Config controls observability bootstrap behaviour.
type Config struct {
	ServiceName    string
	ServiceVersion string
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string // empty disables trace export
	// Registerer receives the meter provider's Prometheus bridge; nil means
	// the default registry.
	Registerer prometheus.Registerer
}

// New builds the logger, installs the global tracer and meter providers and
// returns them. Call Shutdown before exit to flush pending spans.
func New(ctx context.Context, cfg *Config) (*Provider, *slog.Logger, error) {
	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, res, cfg.OTLPEndpoint, log)
	if err != nil {
		return nil, nil, err
	}
	mp, err := newMeterProvider(res, cfg.Registerer)
	if err != nil {
		return nil, nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{traces: tp, meters: mp, log: log}, log, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, endpoint string, log *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint == "" {
		log.Debug("otel: OTLP endpoint unset, spans are not exported")
		return sdktrace.NewTracerProvider(opts...), nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithBatcher(exp))...), nil
}

// newMeterProvider exports OTel instruments through a Prometheus registry so
// they are scraped from /metrics next to the client_golang collectors.
func newMeterProvider(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	exp, err := otelprometheus.New(otelprometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus metric reader: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)), nil
}

// Meter returns the helpdesk meter from this provider.
func (p *Provider) Meter() metric.Meter {
	return p.meters.Meter(instrumentationName)
}

// Shutdown flushes both providers, giving up after ten seconds.
func (p *Provider) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := errors.Join(p.traces.Shutdown(ctx), p.meters.Shutdown(ctx)); err != nil {
		p.log.Error("otel shutdown", "err", err)
	}
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger writes to stdout as JSON unless format is "text". Unknown levels
// fall back to info.
func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levels[level]}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
