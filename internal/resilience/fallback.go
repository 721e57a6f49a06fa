package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every provider in a [FallbackGroup] either
// failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker policy applied to every provider in a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// FallbackGroup chains a primary provider with ordered fallbacks of the same
// type, each behind its own [CircuitBreaker]. Calls walk the chain until one
// provider succeeds.
//
// The chain must be fully built before first use; AddFallback is not safe to
// call concurrently with Execute.
type FallbackGroup[T any] struct {
	names    []string
	values   []T
	breakers []*CircuitBreaker
	cfg      FallbackConfig
}

// NewFallbackGroup starts a chain with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.names = append(fg.names, name)
	fg.values = append(fg.values, value)
	fg.breakers = append(fg.breakers, NewCircuitBreaker(cbCfg))
}

// Execute walks the chain until fn succeeds against some provider. Providers
// with open breakers are skipped. When the whole chain fails, the returned
// error wraps [ErrAllFailed] with the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for functions that produce a
// value. It is a package-level function because methods cannot introduce
// type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i, value := range fg.values {
		var result R
		err := fg.breakers[i].Execute(func() error {
			var callErr error
			result, callErr = fn(value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, breaker open", "provider", fg.names[i])
		} else {
			slog.Warn("provider failed, trying next in chain",
				"provider", fg.names[i], "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
