package resilience

import (
	"context"

	"github.com/callsentry/callsentry/pkg/provider/risk"
)

// RiskFallback chains dialogue-risk backends behind the [risk.Provider]
// interface. A primary whose breaker is open is skipped until its reset
// timeout elapses.
type RiskFallback struct {
	group *FallbackGroup[risk.Provider]
}

var _ risk.Provider = (*RiskFallback)(nil)

// NewRiskFallback builds the chain with primary as the preferred backend.
func NewRiskFallback(primary risk.Provider, primaryName string, cfg FallbackConfig) *RiskFallback {
	return &RiskFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after everything registered before it.
func (f *RiskFallback) AddFallback(name string, provider risk.Provider) {
	f.group.AddFallback(name, provider)
}

// Assess classifies the dialogue on the first healthy backend.
func (f *RiskFallback) Assess(ctx context.Context, dialogue string) (risk.Assessment, error) {
	return ExecuteWithResult(f.group, func(p risk.Provider) (risk.Assessment, error) {
		return p.Assess(ctx, dialogue)
	})
}
