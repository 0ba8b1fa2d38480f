// Package observe provides application-wide observability primitives for
// Interpres: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Interpres metrics.
const meterName = "github.com/interpres-live/interpres"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranslateDuration tracks translation fan-out latency per unit.
	TranslateDuration metric.Float64Histogram

	// SynthDuration tracks speech synthesis latency per queue item.
	SynthDuration metric.Float64Histogram

	// --- Counters ---

	// PatchesIngested counts accepted patches. Use with attribute:
	//   attribute.String("stage", ...)
	PatchesIngested metric.Int64Counter

	// PatchesDropped counts rejected or discarded patches. Use with attribute:
	//   attribute.String("reason", ...) — "stale", "malformed", "overflow"
	PatchesDropped metric.Int64Counter

	// TranslationsFailed counts units broadcast with identity fallback.
	// Use with attribute: attribute.String("lang", ...)
	TranslationsFailed metric.Int64Counter

	// TranslateCacheHits and TranslateCacheMisses count memo lookups.
	TranslateCacheHits   metric.Int64Counter
	TranslateCacheMisses metric.Int64Counter

	// TTSItemsDropped counts queue items that never produced audio.
	// Use with attribute: attribute.String("reason", ...)
	TTSItemsDropped metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// WatchdogAdvisories counts stream-silence advisories raised.
	WatchdogAdvisories metric.Int64Counter

	// --- Gauges ---

	// ActiveRooms tracks the number of live rooms.
	ActiveRooms metric.Int64UpDownCounter

	// RoomParticipants tracks connected participants across all rooms.
	// Use with attribute: attribute.String("role", ...)
	RoomParticipants metric.Int64UpDownCounter

	// TTSBacklog reports the audio backlog of a (room, lang) lane in seconds.
	// Use with attributes: attribute.String("room", ...), attribute.String("lang", ...)
	TTSBacklog metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for live-interpretation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranslateDuration, err = m.Float64Histogram("interpres.translate.duration",
		metric.WithDescription("Latency of translation fan-out per unit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthDuration, err = m.Float64Histogram("interpres.synth.duration",
		metric.WithDescription("Latency of speech synthesis per queue item."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PatchesIngested, err = m.Int64Counter("interpres.patches.ingested",
		metric.WithDescription("Total accepted patches by stage."),
	); err != nil {
		return nil, err
	}
	if met.PatchesDropped, err = m.Int64Counter("interpres.patches.dropped",
		metric.WithDescription("Total rejected or discarded patches by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranslationsFailed, err = m.Int64Counter("interpres.translations.failed",
		metric.WithDescription("Total units broadcast with identity fallback by language."),
	); err != nil {
		return nil, err
	}
	if met.TranslateCacheHits, err = m.Int64Counter("interpres.translate.cache.hits",
		metric.WithDescription("Total translation memo hits."),
	); err != nil {
		return nil, err
	}
	if met.TranslateCacheMisses, err = m.Int64Counter("interpres.translate.cache.misses",
		metric.WithDescription("Total translation memo misses."),
	); err != nil {
		return nil, err
	}
	if met.TTSItemsDropped, err = m.Int64Counter("interpres.tts.items.dropped",
		metric.WithDescription("Total synthesis queue items dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("interpres.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("interpres.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogAdvisories, err = m.Int64Counter("interpres.watchdog.advisories",
		metric.WithDescription("Total stream-silence advisories raised."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRooms, err = m.Int64UpDownCounter("interpres.active_rooms",
		metric.WithDescription("Number of live rooms."),
	); err != nil {
		return nil, err
	}
	if met.RoomParticipants, err = m.Int64UpDownCounter("interpres.room_participants",
		metric.WithDescription("Number of connected participants across all rooms by role."),
	); err != nil {
		return nil, err
	}
	if met.TTSBacklog, err = m.Float64Gauge("interpres.tts.backlog",
		metric.WithDescription("Audio backlog of a (room, lang) lane."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("interpres.http.request.duration",
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

// RecordPatch records an accepted patch by stage.
func (m *Metrics) RecordPatch(ctx context.Context, stage string) {
	m.PatchesIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordPatchDrop records a rejected or discarded patch by reason.
func (m *Metrics) RecordPatchDrop(ctx context.Context, reason string) {
	m.PatchesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTranslateCache records a memo hit or miss.
func (m *Metrics) RecordTranslateCache(ctx context.Context, hit bool) {
	if hit {
		m.TranslateCacheHits.Add(ctx, 1)
		return
	}
	m.TranslateCacheMisses.Add(ctx, 1)
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

// RecordTTSBacklog reports the current backlog of a (room, lang) lane.
func (m *Metrics) RecordTTSBacklog(ctx context.Context, room, lang string, seconds float64) {
	m.TTSBacklog.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("room", room),
			attribute.String("lang", lang),
		),
	)
}
