// Package observe provides application-wide observability primitives for
// Castforge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Castforge metrics.
const meterName = "github.com/MrWong99/castforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per generation stage ---

	// PhaseDuration tracks pipeline phase latency. Use with attribute:
	//   attribute.String("phase", ...)
	PhaseDuration metric.Float64Histogram

	// LLMDuration tracks LLM gateway call latency. Use with attribute:
	//   attribute.String("op", ...)
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks per-turn text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// StitchDuration tracks episode audio stitching latency.
	StitchDuration metric.Float64Histogram

	// ToolDuration tracks MCP tool execution latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolDuration metric.Float64Histogram

	// --- Counters ---

	// Tasks counts task lifecycle events. Use with attribute:
	//   attribute.String("event", "submitted"|"completed"|"failed"|"cancelled")
	Tasks metric.Int64Counter

	// Turns counts dialogue turn synthesis outcomes. Use with attribute:
	//   attribute.String("status", "ok"|"failed")
	Turns metric.Int64Counter

	// WebhookDeliveries counts webhook delivery attempts. Use with attribute:
	//   attribute.String("status", "delivered"|"failed")
	WebhookDeliveries metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTasks tracks the number of generation tasks holding worker slots.
	ActiveTasks metric.Int64UpDownCounter

	// TTSWorkersBusy tracks the number of in-flight TTS synthesis calls.
	TTSWorkersBusy metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Generation
// stages span three orders of magnitude: sub-second artifact writes up to
// multi-minute dialogue phases.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PhaseDuration, err = m.Float64Histogram("castforge.pipeline.phase.duration",
		metric.WithDescription("Latency of one pipeline phase by phase label."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("castforge.llm.duration",
		metric.WithDescription("Latency of LLM gateway operations by op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("castforge.tts.duration",
		metric.WithDescription("Latency of per-turn speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StitchDuration, err = m.Float64Histogram("castforge.stitch.duration",
		metric.WithDescription("Latency of episode audio stitching."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("castforge.tool.duration",
		metric.WithDescription("Latency of MCP tool execution by tool name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Tasks, err = m.Int64Counter("castforge.tasks",
		metric.WithDescription("Task lifecycle events by event kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("castforge.turns",
		metric.WithDescription("Dialogue turn synthesis outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.WebhookDeliveries, err = m.Int64Counter("castforge.webhook.deliveries",
		metric.WithDescription("Webhook delivery attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("castforge.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("castforge.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTasks, err = m.Int64UpDownCounter("castforge.active_tasks",
		metric.WithDescription("Number of generation tasks currently holding worker slots."),
	); err != nil {
		return nil, err
	}
	if met.TTSWorkersBusy, err = m.Int64UpDownCounter("castforge.tts.workers_busy",
		metric.WithDescription("Number of in-flight TTS synthesis calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("castforge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTaskEvent records one task lifecycle event ("submitted", "completed",
// "failed", "cancelled").
func (m *Metrics) RecordTaskEvent(ctx context.Context, event string) {
	m.Tasks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordTurn records one dialogue turn synthesis outcome.
func (m *Metrics) RecordTurn(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordWebhookDelivery records the final outcome of one webhook notification.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.WebhookDeliveries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
