package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupOTel(t *testing.T) (*Handle, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("vnfsd-test")

	h, err := NewOTelMetrics(context.Background(), meter)
	require.NoError(t, err)
	return h, reader
}

func TestRecordSubmittedIncrementsCounter(t *testing.T) {
	h, reader := setupOTel(t)
	ctx := context.Background()

	h.RecordSubmitted(ctx, "lookup")
	h.RecordSubmitted(ctx, "lookup")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestNilHandleRecordMethodsAreNoops(t *testing.T) {
	var h *Handle
	assert.NotPanics(t, func() {
		h.RecordSubmitted(context.Background(), "lookup")
		h.RecordFailed(context.Background(), "lookup")
		h.RecordPoolExhausted(context.Background())
		h.RecordLatency(context.Background(), "lookup", 0.001)
	})
}
