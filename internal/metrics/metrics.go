package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	Listings   metric.Int64Counter
	Operations metric.Int64Counter
	Sales      metric.Int64Counter
	SaleVolume metric.Float64Counter
	Failures   metric.Int64Counter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// New registers every instrument on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"mkt_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"mkt_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"mkt_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"mkt_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"mkt_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.Listings, err = meter.Int64Counter(
		"mkt_listings_total",
		metric.WithDescription("Total number of listings created"),
	)
	if err != nil {
		return nil, err
	}

	m.Operations, err = meter.Int64Counter(
		"mkt_operations_total",
		metric.WithDescription("Committed marketplace operations"),
	)
	if err != nil {
		return nil, err
	}

	m.Sales, err = meter.Int64Counter(
		"mkt_sales_total",
		metric.WithDescription("Completed sales by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.SaleVolume, err = meter.Float64Counter(
		"mkt_sale_volume_total",
		metric.WithDescription("Sum of sale prices in base token units"),
	)
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter(
		"mkt_operation_failures_total",
		metric.WithDescription("Rejected marketplace operations by reason"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordMarketOperation(ctx context.Context, op string) {
	m.Operations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	if op == "list" {
		m.Listings.Add(ctx, 1)
	}
}

// RecordSale counts a sale. Volume is exported as a float and loses
// precision above 2^53 base units.
func (m *Metrics) RecordSale(ctx context.Context, kind string, price decimal.Decimal) {
	labels := metric.WithAttributes(attribute.String("kind", kind))
	m.Sales.Add(ctx, 1, labels)
	m.SaleVolume.Add(ctx, price.InexactFloat64(), labels)
}

func (m *Metrics) RecordMarketFailure(ctx context.Context, op, reason string) {
	m.Failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", reason),
	))
}
