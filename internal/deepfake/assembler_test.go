package deepfake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
	authmock "github.com/callsentry/callsentry/pkg/provider/authenticity/mock"
)

// testTarget keeps assembler tests fast: five 320-sample frames per window.
const testTarget = 5 * chunkSamples

// frame returns one 20 ms frame of constant non-silent samples.
func frame(amplitude int16) []int16 {
	f := make([]int16, chunkSamples)
	for i := range f {
		f[i] = amplitude
	}
	return f
}

// blockingProvider is an authenticity backend whose Classify blocks until
// released, for exercising the in-flight window.
type blockingProvider struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingProvider) Classify(ctx context.Context, window []float32) (authenticity.Scores, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return authenticity.Scores{Authentic: 1, Synthetic: 0}, nil
}

func (b *blockingProvider) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestAssembler_DispatchesAtTarget(t *testing.T) {
	t.Parallel()

	results := make(chan Verdict, 4)
	provider := &authmock.Provider{
		Results: []authenticity.Scores{{Authentic: 1, Synthetic: 0}},
	}
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil),
		func(v Verdict) { results <- v },
		WithTargetSamples(testTarget))
	defer a.Close()

	for i := 0; i < 4; i++ {
		a.Ingest(frame(1000))
	}
	if provider.CallCount() != 0 {
		t.Fatalf("classifier ran after %d samples, want none before target", 4*chunkSamples)
	}

	a.Ingest(frame(1000))

	select {
	case v := <-results:
		if !v.Authentic {
			t.Error("verdict = synthetic, want authentic")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no verdict delivered")
	}
}

func TestAssembler_PendingDuringInFlight(t *testing.T) {
	t.Parallel()

	provider := newBlockingProvider()
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil), nil,
		WithTargetSamples(testTarget))

	for i := 0; i < 5; i++ {
		a.Ingest(frame(1000))
	}
	<-provider.started

	// Audio arriving mid-classification parks in the pending buffer.
	a.Ingest(frame(1000))
	a.Ingest(frame(1000))

	active, pending, inFlight := a.stats()
	if !inFlight {
		t.Fatal("expected classification in flight")
	}
	if active != 0 {
		t.Errorf("active = %d samples, want 0 while in flight", active)
	}
	if pending != 2*chunkSamples {
		t.Errorf("pending = %d samples, want %d", pending, 2*chunkSamples)
	}

	close(provider.release)
	waitFor(t, func() bool {
		_, _, inFlight := a.stats()
		return !inFlight
	})

	// Pending samples became the start of the next window.
	active, pending, _ = a.stats()
	if active != 2*chunkSamples {
		t.Errorf("active = %d samples after completion, want %d", active, 2*chunkSamples)
	}
	if pending != 0 {
		t.Errorf("pending = %d samples after completion, want 0", pending)
	}

	a.Close()
}

func TestAssembler_SingleFlight(t *testing.T) {
	t.Parallel()

	provider := newBlockingProvider()
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil), nil,
		WithTargetSamples(testTarget))

	// Three windows' worth of audio in one burst.
	for i := 0; i < 15; i++ {
		a.Ingest(frame(1000))
	}
	<-provider.started

	if got := provider.callCount(); got != 1 {
		t.Fatalf("classifier invoked %d times concurrently, want 1", got)
	}

	close(provider.release)

	// The parked audio rolls through the remaining windows one at a time.
	waitFor(t, func() bool { return provider.callCount() == 3 })
	for i := 0; i < 2; i++ {
		<-provider.started
	}
	waitFor(t, func() bool {
		active, pending, inFlight := a.stats()
		return active == 0 && pending == 0 && !inFlight
	})

	a.Close()
}

func TestAssembler_NoSamplesLost(t *testing.T) {
	t.Parallel()

	provider := newBlockingProvider()
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil), nil,
		WithTargetSamples(testTarget))

	const frames = 8
	for i := 0; i < frames; i++ {
		a.Ingest(frame(1000))
	}
	<-provider.started

	// One window of samples is in flight; the rest is parked.
	active, pending, _ := a.stats()
	if got := active + pending + testTarget; got != frames*chunkSamples {
		t.Errorf("accounted samples = %d, want %d", got, frames*chunkSamples)
	}

	close(provider.release)
	a.Close()
}

func TestAssembler_MisalignedFrameOverflowsToNextWindow(t *testing.T) {
	t.Parallel()

	provider := newBlockingProvider()
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil), nil,
		WithTargetSamples(testTarget))

	// Four full frames plus one oversized frame: 64 samples spill past the
	// window boundary and must seed the next window.
	for i := 0; i < 4; i++ {
		a.Ingest(frame(1000))
	}
	big := make([]int16, chunkSamples+64)
	for i := range big {
		big[i] = 1000
	}
	a.Ingest(big)
	<-provider.started

	active, _, inFlight := a.stats()
	if !inFlight {
		t.Fatal("expected classification in flight")
	}
	if active != 64 {
		t.Errorf("active = %d samples, want 64 spilled samples", active)
	}

	close(provider.release)
	a.Close()
}

func TestAssembler_ResetDiscardsInFlightResult(t *testing.T) {
	t.Parallel()

	results := make(chan Verdict, 1)
	provider := newBlockingProvider()
	a := NewAssembler(context.Background(),
		NewPipeline(provider, nil),
		func(v Verdict) { results <- v },
		WithTargetSamples(testTarget))

	for i := 0; i < 5; i++ {
		a.Ingest(frame(1000))
	}
	<-provider.started

	// Call torn down mid-analysis.
	a.Reset()
	close(provider.release)
	a.Close()

	select {
	case v := <-results:
		t.Fatalf("stale verdict %+v delivered after reset", v)
	case <-time.After(50 * time.Millisecond):
	}

	active, pending, inFlight := a.stats()
	if active != 0 || pending != 0 || inFlight {
		t.Errorf("state after reset = (%d, %d, %v), want empty", active, pending, inFlight)
	}
}
