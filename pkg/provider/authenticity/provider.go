// Package authenticity defines the Provider interface for audio authenticity
// classifiers.
//
// An authenticity provider scores a fixed-size window of normalized audio
// samples for signs of synthetic (generated or converted) speech. The model
// is treated as a pure function: it holds no call state and may be reused
// across calls.
//
// Implementations must be safe for concurrent use, although the analysis
// pipeline guarantees at most one in-flight classification per call.
package authenticity

import "context"

// Scores holds the raw class scores returned by the classifier model, before
// softmax. Higher means more likely.
type Scores struct {
	// Authentic is the raw score for the "genuine human speech" class.
	Authentic float64

	// Synthetic is the raw score for the "machine-generated speech" class.
	Synthetic float64
}

// Provider is the abstraction over any audio authenticity backend.
type Provider interface {
	// Classify scores one analysis window of normalized samples. The window
	// is zero-mean/unit-variance float32 audio at the call sample rate; its
	// length is fixed by the analysis pipeline.
	//
	// Returns an error if the model cannot be invoked. Callers treat a
	// failed classification as "no event", never as a verdict.
	Classify(ctx context.Context, window []float32) (Scores, error)
}
