// Package risk defines the Provider interface for dialogue-risk classifiers.
//
// A risk provider scores a serialized call dialogue for voice-phishing
// patterns. Like the authenticity classifier, the model is treated as a pure
// function over its input and is reused across calls.
//
// Implementations must be safe for concurrent use; the coordinator guarantees
// at most one in-flight evaluation per call.
package risk

import "context"

// Assessment is the classifier's verdict on one serialized dialogue.
type Assessment struct {
	// Flagged reports the classifier's own binary phishing decision.
	Flagged bool

	// Probability is the classifier's phishing probability in [0, 1].
	// The caller applies its own, stricter threshold on top of Flagged.
	Probability float64
}

// Provider is the abstraction over any dialogue-risk backend.
type Provider interface {
	// Assess scores the dialogue, a speaker-prefixed, time-ordered transcript
	// of the call so far.
	//
	// Returns an error if the model cannot be invoked. Callers treat a
	// failed evaluation as normal risk.
	Assess(ctx context.Context, dialogue string) (Assessment, error)
}
