// Package phishing implements the dialogue analysis path: the turn
// coordinator that watches both transcript streams for completed turn pairs,
// and the risk evaluator that scores the accumulated dialogue.
package phishing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/observe"
	"github.com/callsentry/callsentry/pkg/provider/risk"
)

// Level is the two-state call risk level latched on the protection state.
type Level int

const (
	// LevelNormal means no confirmed phishing risk.
	LevelNormal Level = iota

	// LevelCritical means the classifier flagged the dialogue with high
	// probability.
	LevelCritical
)

// String returns the wire/log label for the level.
func (l Level) String() string {
	if l == LevelCritical {
		return "critical"
	}
	return "normal"
}

// criticalProbability is the probability the classifier must exceed, on top
// of its own binary flag, before the risk level escalates to critical.
const criticalProbability = 0.7

// Evaluation is the outcome of one risk evaluation.
type Evaluation struct {
	// Level is the decided risk level after applying the stricter threshold.
	Level Level

	// Flagged is the classifier's own binary decision.
	Flagged bool

	// Probability is the classifier's phishing probability.
	Probability float64
}

// Evaluator scores the dialogue history against the risk classifier. It
// holds no call state and is reused across calls.
type Evaluator struct {
	provider risk.Provider
	metrics  *observe.Metrics
}

// NewEvaluator builds an Evaluator on the given classifier backend. metrics
// may be nil in tests.
func NewEvaluator(provider risk.Provider, metrics *observe.Metrics) *Evaluator {
	return &Evaluator{provider: provider, metrics: metrics}
}

// Evaluate serializes the history in completion order and asks the
// classifier for a verdict. The level is critical only when the classifier
// both flags the dialogue and reports a probability above the threshold.
// A classifier failure is logged and reported as normal risk.
func (e *Evaluator) Evaluate(ctx context.Context, history *dialogue.History) Evaluation {
	serialized := history.Serialize()

	start := time.Now()
	assessment, err := e.provider.Assess(ctx, serialized)
	if e.metrics != nil {
		e.metrics.RiskDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Warn("phishing risk evaluation failed", "error", err, "turns", history.Len())
		e.recordEvaluation(ctx, "failed")
		return Evaluation{Level: LevelNormal}
	}

	level := LevelNormal
	if assessment.Flagged && assessment.Probability > criticalProbability {
		level = LevelCritical
	}
	e.recordEvaluation(ctx, level.String())

	return Evaluation{
		Level:       level,
		Flagged:     assessment.Flagged,
		Probability: assessment.Probability,
	}
}

func (e *Evaluator) recordEvaluation(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.RiskEvaluations.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("status", status)))
	}
}
