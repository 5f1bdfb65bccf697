// Package observe provides the observability primitives for phonocorrect:
// OpenTelemetry metrics, tracing helpers and structured logging setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/phonocorrect"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use.
type Metrics struct {
	// AnalyzeDuration tracks how long a single text analysis takes.
	AnalyzeDuration metric.Float64Histogram

	// Suggestions counts suggestions returned to callers. Use with attribute:
	//   attribute.String("tier", "custom"|"builtin"|"phonetic")
	Suggestions metric.Int64Counter

	// SkippedRules counts rules skipped during matching because their
	// pattern could not be compiled. Use with attribute:
	//   attribute.String("rule_id", ...)
	SkippedRules metric.Int64Counter

	// Feedback counts accept/reject events. Use with attribute:
	//   attribute.String("outcome", "accepted"|"rejected")
	Feedback metric.Int64Counter

	// RuleMutations counts committed rule store mutations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("tier", ...)
	RuleMutations metric.Int64Counter

	// StorageOps counts key-value store operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", "ok"|"error")
	StorageOps metric.Int64Counter
}

// analyzeBuckets defines histogram bucket boundaries (in seconds) sized for
// in-memory matching of user-typed text.
var analyzeBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnalyzeDuration, err = m.Float64Histogram("phonocorrect.analyze.duration",
		metric.WithDescription("Latency of a single text analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analyzeBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Suggestions, err = m.Int64Counter("phonocorrect.suggestions",
		metric.WithDescription("Total suggestions returned by rule tier."),
	); err != nil {
		return nil, err
	}
	if met.SkippedRules, err = m.Int64Counter("phonocorrect.rules.skipped",
		metric.WithDescription("Total rules skipped because their pattern failed to compile."),
	); err != nil {
		return nil, err
	}
	if met.Feedback, err = m.Int64Counter("phonocorrect.feedback",
		metric.WithDescription("Total feedback events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RuleMutations, err = m.Int64Counter("phonocorrect.rules.mutations",
		metric.WithDescription("Total committed rule mutations by operation and tier."),
	); err != nil {
		return nil, err
	}
	if met.StorageOps, err = m.Int64Counter("phonocorrect.storage.operations",
		metric.WithDescription("Total key-value store operations by operation and status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAnalyze records the duration of one analysis.
func (m *Metrics) RecordAnalyze(ctx context.Context, d time.Duration) {
	m.AnalyzeDuration.Record(ctx, d.Seconds())
}

// RecordSuggestions adds n suggestions for tier.
func (m *Metrics) RecordSuggestions(ctx context.Context, tier string, n int) {
	if n == 0 {
		return
	}
	m.Suggestions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordSkippedRule records a rule skipped during matching.
func (m *Metrics) RecordSkippedRule(ctx context.Context, ruleID string) {
	m.SkippedRules.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

// RecordFeedback records one accept or reject event.
func (m *Metrics) RecordFeedback(ctx context.Context, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.Feedback.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRuleMutation records a committed rule store mutation.
func (m *Metrics) RecordRuleMutation(ctx context.Context, op string, builtIn bool) {
	tier := "custom"
	if builtIn {
		tier = "builtin"
	}
	m.RuleMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("tier", tier),
	))
}

// RecordStorageOp records a key-value store operation and its outcome.
func (m *Metrics) RecordStorageOp(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}
