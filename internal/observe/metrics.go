// Package observe holds the telemetry plumbing for CallSentry: OTel metric
// instruments, tracing helpers, and the HTTP middleware that stitches both
// into request handling.
//
// All instruments are created through the OpenTelemetry Metrics API and
// surface to Prometheus via the exporter registered by [InitProvider].
// Production code receives a *Metrics from main; tests build their own with
// [NewMetrics] over a ManualReader so runs stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/callsentry/callsentry"

// Metrics bundles every instrument the pipeline records into. The OTel
// instrument types are concurrency-safe, so a single Metrics is shared by
// all live calls.
type Metrics struct {
	// DeepfakeDuration measures one authenticity classification, window
	// handoff to verdict.
	DeepfakeDuration metric.Float64Histogram

	// RiskDuration measures one phishing-risk pass over the dialogue.
	RiskDuration metric.Float64Histogram

	// Windows counts finished analysis windows, attributed by "status"
	// (classified, skipped_silence, failed, discarded).
	Windows metric.Int64Counter

	// DeepfakeWarnings counts warnings that actually reached the user,
	// after hysteresis and cooldown.
	DeepfakeWarnings metric.Int64Counter

	// RiskEvaluations counts dispatched risk evaluations, attributed by
	// "level" or by "status"="failed".
	RiskEvaluations metric.Int64Counter

	// GuardMatches counts personal-info hits, attributed by "category".
	GuardMatches metric.Int64Counter

	// MuteCommands counts microphone commands, attributed by "action"
	// (mute, unmute).
	MuteCommands metric.Int64Counter

	// ProviderRequests counts upstream provider calls, attributed by
	// "provider", "kind", and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream provider failures, attributed by
	// "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// ActiveCalls tracks currently protected calls.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration measures request handling, attributed by
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket edges in seconds, sized for classifier round trips on a live call.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// instrumentSet accumulates the first creation error so NewMetrics does not
// need an error check per instrument.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSet) latencyHist(name, desc string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	s.err = err
	return h
}

func (s *instrumentSet) counter(name, desc string) metric.Int64Counter {
	if s.err != nil {
		return nil
	}
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	s.err = err
	return c
}

func (s *instrumentSet) upDown(name, desc string) metric.Int64UpDownCounter {
	if s.err != nil {
		return nil
	}
	c, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	s.err = err
	return c
}

func (s *instrumentSet) hist(name, desc string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
	s.err = err
	return h
}

// NewMetrics builds every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	set := &instrumentSet{meter: mp.Meter(meterName)}

	m := &Metrics{
		DeepfakeDuration: set.latencyHist("callsentry.deepfake.duration",
			"Latency of one audio authenticity classification."),
		RiskDuration: set.latencyHist("callsentry.risk.duration",
			"Latency of one phishing-risk evaluation."),
		Windows: set.counter("callsentry.windows",
			"Completed analysis windows by outcome status."),
		DeepfakeWarnings: set.counter("callsentry.deepfake.warnings",
			"Deepfake warnings surfaced to the user."),
		RiskEvaluations: set.counter("callsentry.risk.evaluations",
			"Dispatched phishing-risk evaluations by resulting level."),
		GuardMatches: set.counter("callsentry.guard.matches",
			"Personal-info guard matches by category."),
		MuteCommands: set.counter("callsentry.mute.commands",
			"Microphone transmission commands by action."),
		ProviderRequests: set.counter("callsentry.provider.requests",
			"Provider API requests by provider, kind, and status."),
		ProviderErrors: set.counter("callsentry.provider.errors",
			"Provider failures by provider and kind."),
		ActiveCalls: set.upDown("callsentry.active_calls",
			"Number of live protected calls."),
		HTTPRequestDuration: set.hist("callsentry.http.request.duration",
			"HTTP request latency by method and path."),
	}
	if set.err != nil {
		return nil, set.err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics lazily builds a shared Metrics on the global meter provider.
// Instrument creation against the global provider cannot fail in practice,
// so a failure here panics rather than returning an error from every call
// site.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr shortens attribute.String at recording sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWindow counts one finished analysis window.
func (m *Metrics) RecordWindow(ctx context.Context, status string) {
	m.Windows.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordGuardMatch counts one personal-info hit.
func (m *Metrics) RecordGuardMatch(ctx context.Context, category string) {
	m.GuardMatches.Add(ctx, 1, metric.WithAttributes(Attr("category", category)))
}

// RecordMuteCommand counts one microphone command.
func (m *Metrics) RecordMuteCommand(ctx context.Context, action string) {
	m.MuteCommands.Add(ctx, 1, metric.WithAttributes(Attr("action", action)))
}

// RecordProviderRequest counts one upstream provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one upstream provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}
