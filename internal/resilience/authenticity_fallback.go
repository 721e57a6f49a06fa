package resilience

import (
	"context"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
)

// AuthenticityFallback chains voice-authenticity classifiers behind the
// [authenticity.Provider] interface. Classification is per window, so every
// call is free to land on a different healthy backend.
type AuthenticityFallback struct {
	group *FallbackGroup[authenticity.Provider]
}

var _ authenticity.Provider = (*AuthenticityFallback)(nil)

// NewAuthenticityFallback builds the chain with primary as the preferred
// backend.
func NewAuthenticityFallback(primary authenticity.Provider, primaryName string, cfg FallbackConfig) *AuthenticityFallback {
	return &AuthenticityFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after everything registered before it.
func (f *AuthenticityFallback) AddFallback(name string, provider authenticity.Provider) {
	f.group.AddFallback(name, provider)
}

// Classify scores the window on the first healthy backend.
func (f *AuthenticityFallback) Classify(ctx context.Context, window []float32) (authenticity.Scores, error) {
	return ExecuteWithResult(f.group, func(p authenticity.Provider) (authenticity.Scores, error) {
		return p.Classify(ctx, window)
	})
}
