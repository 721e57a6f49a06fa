// Package dialogue holds the call-scoped dialogue history: an append-only
// record of completed turns from both speakers, ordered by completion time
// for downstream risk evaluation.
package dialogue

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Speaker identifies which side of the call produced a turn.
type Speaker int

const (
	// SpeakerLocal is the protected user's side of the call.
	SpeakerLocal Speaker = iota

	// SpeakerRemote is the other party.
	SpeakerRemote
)

// String returns the serialization label for the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerLocal:
		return "LOCAL"
	case SpeakerRemote:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// Turn is one completed utterance. Immutable once created.
type Turn struct {
	// Speaker is the side that produced the utterance.
	Speaker Speaker

	// Text is the final transcript of the utterance.
	Text string

	// CompletedAt is when the transcription of the utterance settled. The
	// two transcript streams are asynchronous, so turns may be appended out
	// of completion order.
	CompletedAt time.Time
}

// History is the append-only, call-scoped turn record. The zero value is
// ready to use. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// Append records a completed turn.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Ordered returns a copy of the turns sorted by completion timestamp.
// Appends racing with transcription delays can land out of order; the sort is
// stable so equal timestamps keep arrival order.
func (h *History) Ordered() []Turn {
	h.mu.Lock()
	out := slices.Clone(h.turns)
	h.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Turn) int {
		return a.CompletedAt.Compare(b.CompletedAt)
	})
	return out
}

// Serialize renders the time-ordered history as speaker-prefixed text, one
// "SPEAKER: text" segment per turn joined by single spaces. This is the exact
// form handed to the risk classifier.
func (h *History) Serialize() string {
	turns := h.Ordered()
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Speaker.String() + ": " + t.Text
	}
	return strings.Join(parts, " ")
}

// Reset discards all recorded turns. Called at call start and teardown so no
// dialogue leaks across calls.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
