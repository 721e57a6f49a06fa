// Package mock provides test doubles for the authenticity package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
)

// ClassifyCall records a single invocation of Provider.Classify.
type ClassifyCall struct {
	// Window is a copy of the normalized samples passed to Classify.
	Window []float32
}

// Provider is a mock implementation of authenticity.Provider.
//
// Set Results to a sequence of scores to return in order; when the sequence
// is exhausted the last element repeats. Set ClassifyErr to force failures.
// ClassifyFunc, when non-nil, overrides both.
type Provider struct {
	mu sync.Mutex

	// Results is the sequence of Scores returned by successive Classify calls.
	Results []authenticity.Scores

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// ClassifyFunc, if non-nil, fully replaces the default behavior.
	ClassifyFunc func(ctx context.Context, window []float32) (authenticity.Scores, error)

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall

	next int
}

// Classify records the call and returns the next configured result.
func (p *Provider) Classify(ctx context.Context, window []float32) (authenticity.Scores, error) {
	p.mu.Lock()
	cp := make([]float32, len(window))
	copy(cp, window)
	p.ClassifyCalls = append(p.ClassifyCalls, ClassifyCall{Window: cp})
	fn := p.ClassifyFunc
	err := p.ClassifyErr
	var scores authenticity.Scores
	if len(p.Results) > 0 {
		i := p.next
		if i >= len(p.Results) {
			i = len(p.Results) - 1
		}
		scores = p.Results[i]
		p.next++
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, window)
	}
	if err != nil {
		return authenticity.Scores{}, err
	}
	return scores, nil
}

// CallCount returns the number of recorded Classify calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ClassifyCalls)
}

// Reset clears all recorded calls and rewinds the result sequence.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls = nil
	p.next = 0
}

// Ensure Provider implements authenticity.Provider at compile time.
var _ authenticity.Provider = (*Provider)(nil)
