package deepfake

import (
	"context"
	"log/slog"
	"sync"
)

// Assembler is the tumbling-window buffer for the remote audio stream.
//
// Remote PCM frames are appended to the active window until it reaches the
// target sample count, at which point the window is snapshotted and handed to
// the Pipeline on a separate goroutine. Frames arriving while a
// classification is in flight are parked in the pending buffer and become the
// start of the next window once the classification completes, so no remote
// audio is ever dropped. At most one classification runs at a time.
//
// Ingest is cheap and never blocks on the classifier; it is safe to call from
// the audio delivery path. All methods are safe for concurrent use.
type Assembler struct {
	ctx      context.Context
	pipeline *Pipeline
	onResult func(Verdict)
	target   int

	mu       sync.Mutex
	active   []int16
	pending  []int16
	inFlight bool
	epoch    uint64

	wg sync.WaitGroup
}

// AssemblerOption is a functional option for Assembler.
type AssemblerOption func(*Assembler)

// WithTargetSamples overrides the window size. Values below one chunk are
// rejected by NewAssembler. Intended for tests.
func WithTargetSamples(n int) AssemblerOption {
	return func(a *Assembler) {
		a.target = n
	}
}

// NewAssembler builds an Assembler for one call. onResult receives every
// decided verdict (silence skips and failures produce none); it must not
// block for long since it is called from the classification goroutine.
//
// ctx bounds the classifier invocations; it should be the call's context.
func NewAssembler(ctx context.Context, pipeline *Pipeline, onResult func(Verdict), opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		ctx:      ctx,
		pipeline: pipeline,
		onResult: onResult,
		target:   WindowSamples,
	}
	for _, o := range opts {
		o(a)
	}
	if a.target <= 0 {
		a.target = WindowSamples
	}
	return a
}

// Ingest appends a remote audio frame. While a classification is in flight
// the samples are parked in the pending buffer; otherwise they extend the
// active window, and a window that reaches the target size is dispatched.
func (a *Assembler) Ingest(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inFlight {
		a.pending = append(a.pending, samples...)
		return
	}
	a.active = append(a.active, samples...)
	a.maybeDispatchLocked()
}

// maybeDispatchLocked snapshots and dispatches a full window. Must be called
// with a.mu held.
func (a *Assembler) maybeDispatchLocked() {
	if a.inFlight || len(a.active) < a.target {
		return
	}

	window := make([]int16, a.target)
	copy(window, a.active)
	// Misaligned frames can leave a few samples past the target; they start
	// the next window.
	a.active = append([]int16(nil), a.active[a.target:]...)
	a.inFlight = true

	a.wg.Add(1)
	go a.run(window, a.epoch)
}

// run classifies one snapshot and reconciles the buffers. A result whose
// epoch no longer matches (the call was torn down or reset mid-analysis) is
// discarded without mutating state.
func (a *Assembler) run(window []int16, epoch uint64) {
	defer a.wg.Done()

	verdict, err := a.pipeline.Classify(a.ctx, window)

	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		return
	}
	a.active = append(a.active, a.pending...)
	a.pending = nil
	a.inFlight = false
	a.maybeDispatchLocked()
	a.mu.Unlock()

	if err != nil {
		slog.Warn("deepfake classification failed", "error", err)
		return
	}
	if verdict != nil && a.onResult != nil {
		a.onResult(*verdict)
	}
}

// Reset discards all buffered audio and invalidates any in-flight
// classification. Called at call start and teardown.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.active = nil
	a.pending = nil
	a.inFlight = false
}

// Close resets the assembler and waits for any in-flight classification
// goroutine to finish. The invalidated result is discarded.
func (a *Assembler) Close() {
	a.Reset()
	a.wg.Wait()
}

// stats returns the current buffer occupancy, for tests.
func (a *Assembler) stats() (active, pending int, inFlight bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active), len(a.pending), a.inFlight
}
