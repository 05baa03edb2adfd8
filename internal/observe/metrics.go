// Package observe holds the voice server's telemetry: OpenTelemetry
// instruments for the pool, backend and frame loop, trace helpers, a
// trace-aware slog logger and the HTTP middleware.
//
// [InitProvider] installs SDK providers whose metrics Prometheus scrapes from
// /metrics. Components fall back to [DefaultMetrics] on the global provider;
// tests pass their own provider to [NewMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all polyvox metrics.
const meterName = "github.com/MrWong99/polyvox"

// Metrics bundles the instruments. Safe for concurrent use.
type Metrics struct {
	// --- Voice allocation ---

	// RealVoices is the number of voices owning a backend slot after the
	// last tick.
	RealVoices metric.Int64Gauge

	// VirtualVoices is the number of tracked but silent voices after the
	// last tick.
	VirtualVoices metric.Int64Gauge

	// VoiceTransitions counts pool state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("cause", ...)
	VoiceTransitions metric.Int64Counter

	// Refusals counts MakeReal requests that left the voice virtual.
	Refusals metric.Int64Counter

	// PlayRequests counts Play calls. Use with attribute:
	//   attribute.String("status", ...)
	PlayRequests metric.Int64Counter

	// VoicesReaped counts voices stopped because their sound ended. Use with
	// attribute:
	//   attribute.String("reason", ...)
	VoicesReaped metric.Int64Counter

	// --- Backend ---

	// BackendErrors counts failed backend calls. Use with attribute:
	//   attribute.String("op", ...)
	BackendErrors metric.Int64Counter

	// BreakerState is the state of the backend start breaker
	// (0 closed, 1 open, 2 half-open).
	BreakerState metric.Int64Gauge

	// --- Frame loop ---

	// TickDuration tracks the wall time spent in one engine tick.
	TickDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route pattern and status class.
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) for frame
// work; a 60 Hz frame is 16.6ms long.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.033, 0.1,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := new(Metrics)
	var err error

	// Gauges.
	if met.RealVoices, err = m.Int64Gauge("polyvox.voices.real",
		metric.WithDescription("Number of voices owning a backend slot."),
	); err != nil {
		return nil, err
	}
	if met.VirtualVoices, err = m.Int64Gauge("polyvox.voices.virtual",
		metric.WithDescription("Number of tracked voices without a backend slot."),
	); err != nil {
		return nil, err
	}
	if met.BreakerState, err = m.Int64Gauge("polyvox.backend.breaker_state",
		metric.WithDescription("Backend start breaker state: 0 closed, 1 open, 2 half-open."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VoiceTransitions, err = m.Int64Counter("polyvox.voice.transitions",
		metric.WithDescription("Voice state changes by source state, target state and cause."),
	); err != nil {
		return nil, err
	}
	if met.Refusals, err = m.Int64Counter("polyvox.voice.refusals",
		metric.WithDescription("Requests for a real slot that left the voice virtual."),
	); err != nil {
		return nil, err
	}
	if met.PlayRequests, err = m.Int64Counter("polyvox.play.requests",
		metric.WithDescription("Play requests by status."),
	); err != nil {
		return nil, err
	}
	if met.VoicesReaped, err = m.Int64Counter("polyvox.voice.reaped",
		metric.WithDescription("Voices stopped because their sound ended, by reason."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("polyvox.backend.errors",
		metric.WithDescription("Failed backend calls by operation."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("polyvox.tick.duration",
		metric.WithDescription("Wall time spent in one engine tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("polyvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// DefaultMetrics returns instruments on the global meter provider, created
// on first use. Call [InitProvider] first for them to be exported.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// RecordTransition records one voice state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, cause string) {
	m.VoiceTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("cause", cause),
		),
	)
}

// RecordPlay records one Play request outcome.
func (m *Metrics) RecordPlay(ctx context.Context, status string) {
	m.PlayRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBackendError records one failed backend call.
func (m *Metrics) RecordBackendError(ctx context.Context, op string) {
	m.BackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordReaped records one voice stopped because its sound ended.
func (m *Metrics) RecordReaped(ctx context.Context, reason string) {
	m.VoicesReaped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordVoiceCounts records the real and virtual voice gauges.
func (m *Metrics) RecordVoiceCounts(ctx context.Context, realCount, virtualCount int) {
	m.RealVoices.Record(ctx, int64(realCount))
	m.VirtualVoices.Record(ctx, int64(virtualCount))
}
