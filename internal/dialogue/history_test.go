package dialogue

import (
	"testing"
	"time"
)

func TestHistory_OrderedByCompletionTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var h History

	// Remote completes later but arrives first (network delay on local STT).
	h.Append(Turn{Speaker: SpeakerRemote, Text: "this is your bank", CompletedAt: base.Add(10 * time.Second)})
	h.Append(Turn{Speaker: SpeakerLocal, Text: "hello", CompletedAt: base.Add(8 * time.Second)})

	ordered := h.Ordered()
	if len(ordered) != 2 {
		t.Fatalf("got %d turns, want 2", len(ordered))
	}
	if ordered[0].Speaker != SpeakerLocal {
		t.Errorf("first ordered turn = %v, want LOCAL", ordered[0].Speaker)
	}
	if ordered[1].Speaker != SpeakerRemote {
		t.Errorf("second ordered turn = %v, want REMOTE", ordered[1].Speaker)
	}
}

func TestHistory_Serialize(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var h History
	h.Append(Turn{Speaker: SpeakerRemote, Text: "transfer the money now", CompletedAt: base.Add(2 * time.Second)})
	h.Append(Turn{Speaker: SpeakerLocal, Text: "who is this", CompletedAt: base.Add(time.Second)})

	got := h.Serialize()
	want := "LOCAL: who is this REMOTE: transfer the money now"
	if got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestHistory_SerializeEmpty(t *testing.T) {
	t.Parallel()

	var h History
	if got := h.Serialize(); got != "" {
		t.Errorf("Serialize() = %q, want empty", got)
	}
}

func TestHistory_Reset(t *testing.T) {
	t.Parallel()

	var h History
	h.Append(Turn{Speaker: SpeakerLocal, Text: "hi", CompletedAt: time.Now()})
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", h.Len())
	}
}

func TestHistory_OrderedDoesNotAliasInternalState(t *testing.T) {
	t.Parallel()

	var h History
	h.Append(Turn{Speaker: SpeakerLocal, Text: "hi", CompletedAt: time.Now()})

	snap := h.Ordered()
	snap[0].Text = "mutated"

	if h.Ordered()[0].Text != "hi" {
		t.Error("mutating the snapshot changed the history")
	}
}

func TestSpeakerString(t *testing.T) {
	t.Parallel()

	if SpeakerLocal.String() != "LOCAL" || SpeakerRemote.String() != "REMOTE" {
		t.Errorf("labels = %q/%q, want LOCAL/REMOTE", SpeakerLocal, SpeakerRemote)
	}
	if Speaker(42).String() != "UNKNOWN" {
		t.Errorf("out-of-range speaker = %q, want UNKNOWN", Speaker(42))
	}
}
