package metrics

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMarketplaceCounters(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordMarketOperation(ctx, "list")
	m.RecordMarketOperation(ctx, "list")
	m.RecordMarketOperation(ctx, "buy")
	m.RecordSale(ctx, "direct", decimal.NewFromInt(1000))
	m.RecordMarketFailure(ctx, "buy", "INSUFFICIENT_ALLOWANCE")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumInt(t, got["mkt_listings_total"]))
	assert.Equal(t, int64(3), sumInt(t, got["mkt_operations_total"]))
	assert.Equal(t, int64(1), sumInt(t, got["mkt_sales_total"]))
	assert.Equal(t, int64(1), sumInt(t, got["mkt_operation_failures_total"]))

	volume, ok := got["mkt_sale_volume_total"].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, volume.DataPoints, 1)
	assert.Equal(t, 1000.0, volume.DataPoints[0].Value)
}
