package phishing

import (
	"context"
	"sync"

	"github.com/callsentry/callsentry/internal/dialogue"
)

// Coordinator accumulates dialogue turns from the two independent transcript
// streams and dispatches exactly one risk evaluation per completed turn pair.
//
// A final from either stream appends its turn to the history and marks that
// side's completion flag. When both flags are set and no evaluation is
// running, the flags are cleared and one evaluation is dispatched
// atomically. Finals arriving mid-evaluation set their flags as usual; a
// pair completed during an evaluation is picked up when it finishes.
//
// Finals arriving while the microphone is muted are recorded but never
// trigger the pair check. The flags stay set and the check resumes with the
// first final after the mute lifts.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	ctx       context.Context
	history   *dialogue.History
	evaluator *Evaluator
	onResult  func(Evaluation)

	mu         sync.Mutex
	localDone  bool
	remoteDone bool
	running    bool
	epoch      uint64

	wg sync.WaitGroup
}

// NewCoordinator builds a Coordinator for one call. onResult receives every
// completed evaluation; it must not block for long since it is called from
// the evaluation goroutine. ctx bounds classifier invocations.
func NewCoordinator(ctx context.Context, evaluator *Evaluator, history *dialogue.History, onResult func(Evaluation)) *Coordinator {
	return &Coordinator{
		ctx:       ctx,
		history:   history,
		evaluator: evaluator,
		onResult:  onResult,
	}
}

// OnFinal records a completed turn. micMuted is the microphone state at the
// time the final arrived; while muted the pair check is skipped for both
// speakers.
func (c *Coordinator) OnFinal(turn dialogue.Turn, micMuted bool) {
	c.history.Append(turn)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch turn.Speaker {
	case dialogue.SpeakerLocal:
		c.localDone = true
	case dialogue.SpeakerRemote:
		c.remoteDone = true
	}
	if micMuted {
		return
	}
	c.maybeDispatchLocked()
}

// maybeDispatchLocked clears the completion flags and starts one evaluation
// when both sides have completed and none is running. Must be called with
// c.mu held.
func (c *Coordinator) maybeDispatchLocked() {
	if c.running || !c.localDone || !c.remoteDone {
		return
	}
	c.localDone = false
	c.remoteDone = false
	c.running = true

	c.wg.Add(1)
	go c.run(c.epoch)
}

// run performs one evaluation and re-checks the flags on completion so a
// pair that completed mid-evaluation is not lost. A completion whose epoch
// no longer matches (call torn down) is discarded without mutating state.
func (c *Coordinator) run(epoch uint64) {
	defer c.wg.Done()

	eval := c.evaluator.Evaluate(c.ctx, c.history)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.maybeDispatchLocked()
	c.mu.Unlock()

	if c.onResult != nil {
		c.onResult(eval)
	}
}

// Reset clears the completion flags, the running flag, and the dialogue
// history, and invalidates any in-flight evaluation. Called at call start
// and teardown.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.epoch++
	c.localDone = false
	c.remoteDone = false
	c.running = false
	c.mu.Unlock()

	c.history.Reset()
}

// Close resets the coordinator and waits for any in-flight evaluation
// goroutine to finish. The invalidated result is discarded.
func (c *Coordinator) Close() {
	c.Reset()
	c.wg.Wait()
}

// flags returns the completion and running flags, for tests.
func (c *Coordinator) flags() (local, remote, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDone, c.remoteDone, c.running
}
