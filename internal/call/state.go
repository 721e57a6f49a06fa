// Package call implements the per-call protection session: the single
// event-loop goroutine that owns the protection state and serializes every
// mutation coming from the audio pipeline, the transcript streams, the
// classifiers, and user actions.
package call

import (
	"fmt"
	"time"

	"github.com/callsentry/callsentry/internal/phishing"
)

// Mode is the protection mode. Both modes currently resolve to the same
// confirmation action; the branch exists for future divergent policies.
type Mode string

const (
	// ModeStandard is the default protection mode.
	ModeStandard Mode = "STANDARD"

	// ModeStrict is reserved for stricter future policies.
	ModeStrict Mode = "STRICT"
)

// IsValid reports whether the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeStandard, ModeStrict:
		return true
	}
	return false
}

// ParseMode converts a persisted settings string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown protection mode %q", s)
	}
	return m, nil
}

// ProtectionState is the call-scoped protection state. A single instance
// exists per session; it is mutated only by the session event loop and read
// by the UI boundary through [Session.State].
type ProtectionState struct {
	// Mode is the active protection mode.
	Mode Mode

	// AutoMuteEnabled gates the mute action on risk confirmation.
	AutoMuteEnabled bool

	// MonitoringActive gates the personal-info guard.
	MonitoringActive bool

	// RiskLevel is the continuously-latched phishing risk signal.
	RiskLevel phishing.Level

	// MicMuted reports whether the local microphone is currently suppressed.
	MicMuted bool

	// UnmuteDeadline is when the scheduled unmute fires. Zero when the
	// microphone is not muted.
	UnmuteDeadline time.Time

	// DeepfakeStreak counts consecutive synthetic verdicts since the last
	// authentic verdict or warning.
	DeepfakeStreak int

	// LastWarningAt is when the last deepfake warning was surfaced. Zero
	// before the first warning.
	LastWarningAt time.Time
}
