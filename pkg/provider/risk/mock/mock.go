// Package mock provides test doubles for the risk package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/callsentry/callsentry/pkg/provider/risk"
)

// AssessCall records a single invocation of Provider.Assess.
type AssessCall struct {
	// Dialogue is the serialized transcript passed to Assess.
	Dialogue string
}

// Provider is a mock implementation of risk.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is the Assessment returned by every Assess call.
	Result risk.Assessment

	// AssessErr, if non-nil, is returned by every Assess call.
	AssessErr error

	// AssessFunc, if non-nil, fully replaces the default behavior.
	AssessFunc func(ctx context.Context, dialogue string) (risk.Assessment, error)

	// AssessCalls records every call to Assess in order.
	AssessCalls []AssessCall
}

// Assess records the call and returns Result, AssessErr.
func (p *Provider) Assess(ctx context.Context, dialogue string) (risk.Assessment, error) {
	p.mu.Lock()
	p.AssessCalls = append(p.AssessCalls, AssessCall{Dialogue: dialogue})
	fn := p.AssessFunc
	result := p.Result
	err := p.AssessErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, dialogue)
	}
	if err != nil {
		return risk.Assessment{}, err
	}
	return result, nil
}

// CallCount returns the number of recorded Assess calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AssessCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AssessCalls = nil
}

// Ensure Provider implements risk.Provider at compile time.
var _ risk.Provider = (*Provider)(nil)
