// Package metrics implements vnfsd's OpenTelemetry-backed instrumentation,
// the Go-idiomatic (always compiled in, cheap when unexported) replacement
// for the C original's #ifdef LATENCY_MEASURING_ENABLED ftimer arrays. It
// mirrors the teacher's (gcsfuse) metrics package: an OTel meter wrapped in
// a small typed handle, exported over Prometheus.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func opAttr(op string) attribute.KeyValue {
	return attribute.String("op", op)
}

// Handle is the set of instruments every translation handler records
// against. It is safe for concurrent use.
type Handle struct {
	compoundsSubmitted metric.Int64Counter
	compoundsFailed    metric.Int64Counter
	poolExhausted      metric.Int64Counter
	opLatency          metric.Float64Histogram
}

// NewOTelMetrics builds a Handle from meter, matching the teacher's
// NewOTelMetrics(ctx, ...) constructor shape.
func NewOTelMetrics(ctx context.Context, meter metric.Meter) (*Handle, error) {
	compoundsSubmitted, err := meter.Int64Counter(
		"vnfsd.compound.submitted",
		metric.WithDescription("NFSv4 COMPOUND requests submitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: compound.submitted: %w", err)
	}

	compoundsFailed, err := meter.Int64Counter(
		"vnfsd.compound.failed",
		metric.WithDescription("NFSv4 COMPOUND requests that returned a non-NFS4_OK status or RPC error"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: compound.failed: %w", err)
	}

	poolExhausted, err := meter.Int64Counter(
		"vnfsd.pool.exhausted",
		metric.WithDescription("continuation pool allocation failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: pool.exhausted: %w", err)
	}

	opLatency, err := meter.Float64Histogram(
		"vnfsd.op.latency",
		metric.WithDescription("per-FUSE-op NFSv4 COMPOUND round-trip latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: op.latency: %w", err)
	}

	return &Handle{
		compoundsSubmitted: compoundsSubmitted,
		compoundsFailed:    compoundsFailed,
		poolExhausted:      poolExhausted,
		opLatency:          opLatency,
	}, nil
}

// RecordSubmitted increments the COMPOUND-submitted counter for op.
func (h *Handle) RecordSubmitted(ctx context.Context, op string) {
	if h == nil {
		return
	}
	h.compoundsSubmitted.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
}

// RecordFailed increments the COMPOUND-failed counter for op.
func (h *Handle) RecordFailed(ctx context.Context, op string) {
	if h == nil {
		return
	}
	h.compoundsFailed.Add(ctx, 1, metric.WithAttributes(opAttr(op)))
}

// RecordPoolExhausted increments the pool-exhaustion counter.
func (h *Handle) RecordPoolExhausted(ctx context.Context) {
	if h == nil {
		return
	}
	h.poolExhausted.Add(ctx, 1)
}

// RecordLatency records how long op took, in seconds.
func (h *Handle) RecordLatency(ctx context.Context, op string, seconds float64) {
	if h == nil {
		return
	}
	h.opLatency.Record(ctx, seconds, metric.WithAttributes(opAttr(op)))
}
