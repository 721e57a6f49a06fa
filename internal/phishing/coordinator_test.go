package phishing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/pkg/provider/risk"
	riskmock "github.com/callsentry/callsentry/pkg/provider/risk/mock"
)

func localFinal(text string) dialogue.Turn {
	return dialogue.Turn{Speaker: dialogue.SpeakerLocal, Text: text, CompletedAt: time.Now()}
}

func remoteFinal(text string) dialogue.Turn {
	return dialogue.Turn{Speaker: dialogue.SpeakerRemote, Text: text, CompletedAt: time.Now()}
}

// blockingRisk is a risk backend whose Assess blocks until released.
type blockingRisk struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newBlockingRisk() *blockingRisk {
	return &blockingRisk{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingRisk) Assess(ctx context.Context, dialogue string) (risk.Assessment, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return risk.Assessment{Flagged: false, Probability: 0.1}, nil
}

func (b *blockingRisk) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestCoordinator(provider risk.Provider, results chan Evaluation) *Coordinator {
	h := &dialogue.History{}
	var onResult func(Evaluation)
	if results != nil {
		onResult = func(e Evaluation) { results <- e }
	}
	return NewCoordinator(context.Background(), NewEvaluator(provider, nil), h, onResult)
}

func TestCoordinator_PairTriggersOneEvaluation(t *testing.T) {
	t.Parallel()

	results := make(chan Evaluation, 1)
	provider := &riskmock.Provider{Result: risk.Assessment{Flagged: true, Probability: 0.9}}
	c := newTestCoordinator(provider, results)
	defer c.Close()

	c.OnFinal(localFinal("hello"), false)
	if provider.CallCount() != 0 {
		t.Fatal("evaluation dispatched before both sides completed")
	}
	c.OnFinal(remoteFinal("this is your bank"), false)

	select {
	case eval := <-results:
		if eval.Level != LevelCritical {
			t.Errorf("level = %v, want critical", eval.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no evaluation result")
	}
	if provider.CallCount() != 1 {
		t.Errorf("classifier invoked %d times, want 1", provider.CallCount())
	}
}

func TestCoordinator_SameSideRepeatsDoNotTrigger(t *testing.T) {
	t.Parallel()

	provider := &riskmock.Provider{}
	c := newTestCoordinator(provider, nil)
	defer c.Close()

	c.OnFinal(remoteFinal("one"), false)
	c.OnFinal(remoteFinal("two"), false)
	c.OnFinal(remoteFinal("three"), false)

	if provider.CallCount() != 0 {
		t.Errorf("classifier invoked %d times without a local turn, want 0", provider.CallCount())
	}
	local, remote, running := c.flags()
	if local || !remote || running {
		t.Errorf("flags = (%v, %v, %v), want (false, true, false)", local, remote, running)
	}
}

func TestCoordinator_MutedLocalTurnIsRecordedButDeferred(t *testing.T) {
	t.Parallel()

	results := make(chan Evaluation, 1)
	provider := &riskmock.Provider{}
	h := &dialogue.History{}
	c := NewCoordinator(context.Background(), NewEvaluator(provider, nil), h,
		func(e Evaluation) { results <- e })
	defer c.Close()

	c.OnFinal(remoteFinal("read me the code"), false)
	c.OnFinal(localFinal("the code is 482913"), true)

	// Both flags are set, but the muted local turn must not run the check.
	if provider.CallCount() != 0 {
		t.Fatal("muted local turn triggered an evaluation")
	}
	local, remote, _ := c.flags()
	if !local || !remote {
		t.Errorf("flags = (%v, %v), want both set", local, remote)
	}
	if h.Len() != 2 {
		t.Errorf("history has %d turns, want 2 (muted turn still recorded)", h.Len())
	}

	// The next unmuted final resumes the pair check.
	c.OnFinal(remoteFinal("hurry up"), false)
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred pair never evaluated")
	}
}

func TestCoordinator_MutedRemoteTurnIsRecordedButDeferred(t *testing.T) {
	t.Parallel()

	results := make(chan Evaluation, 1)
	provider := &riskmock.Provider{}
	h := &dialogue.History{}
	c := NewCoordinator(context.Background(), NewEvaluator(provider, nil), h,
		func(e Evaluation) { results <- e })
	defer c.Close()

	c.OnFinal(localFinal("hold on a second"), false)
	c.OnFinal(remoteFinal("read me the code"), true)

	// The pair completed during the mute; neither side may run the check.
	if provider.CallCount() != 0 {
		t.Fatal("muted remote turn triggered an evaluation")
	}
	local, remote, _ := c.flags()
	if !local || !remote {
		t.Errorf("flags = (%v, %v), want both set", local, remote)
	}
	if h.Len() != 2 {
		t.Errorf("history has %d turns, want 2 (muted turn still recorded)", h.Len())
	}

	c.OnFinal(localFinal("sorry, go ahead"), false)
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred pair never evaluated")
	}
}

func TestCoordinator_SingleFlightWithDeferredPair(t *testing.T) {
	t.Parallel()

	provider := newBlockingRisk()
	results := make(chan Evaluation, 4)
	h := &dialogue.History{}
	c := NewCoordinator(context.Background(), NewEvaluator(provider, nil), h,
		func(e Evaluation) { results <- e })

	// First pair dispatches and blocks.
	c.OnFinal(localFinal("hello"), false)
	c.OnFinal(remoteFinal("hi"), false)
	<-provider.started

	// Second pair completes while the first evaluation is running.
	c.OnFinal(localFinal("who is this"), false)
	c.OnFinal(remoteFinal("your bank"), false)

	if got := provider.callCount(); got != 1 {
		t.Fatalf("classifier invoked %d times concurrently, want 1", got)
	}

	// Completion picks up the deferred pair.
	close(provider.release)
	<-provider.started

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := provider.callCount(); got != 2 {
		t.Errorf("classifier invoked %d times total, want 2", got)
	}

	c.Close()
}

func TestCoordinator_ResetDiscardsInFlightResult(t *testing.T) {
	t.Parallel()

	provider := newBlockingRisk()
	results := make(chan Evaluation, 1)
	h := &dialogue.History{}
	c := NewCoordinator(context.Background(), NewEvaluator(provider, nil), h,
		func(e Evaluation) { results <- e })

	c.OnFinal(localFinal("hello"), false)
	c.OnFinal(remoteFinal("hi"), false)
	<-provider.started

	c.Reset()
	close(provider.release)
	c.Close()

	select {
	case eval := <-results:
		t.Fatalf("stale evaluation %+v delivered after reset", eval)
	case <-time.After(50 * time.Millisecond):
	}
	if h.Len() != 0 {
		t.Errorf("history has %d turns after reset, want 0", h.Len())
	}
}

func TestCoordinator_OutOfOrderCompletionTimes(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	provider := &riskmock.Provider{}
	results := make(chan Evaluation, 1)
	h := &dialogue.History{}
	c := NewCoordinator(context.Background(), NewEvaluator(provider, nil), h,
		func(e Evaluation) { results <- e })
	defer c.Close()

	// The remote final completed later but arrives first.
	c.OnFinal(dialogue.Turn{Speaker: dialogue.SpeakerRemote, Text: "are you there", CompletedAt: base.Add(10 * time.Second)}, false)
	c.OnFinal(dialogue.Turn{Speaker: dialogue.SpeakerLocal, Text: "yes", CompletedAt: base.Add(8 * time.Second)}, false)

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("no evaluation result")
	}

	want := "LOCAL: yes REMOTE: are you there"
	if got := provider.AssessCalls[0].Dialogue; got != want {
		t.Errorf("serialized dialogue = %q, want %q", got, want)
	}
}
