package call

import (
	"github.com/callsentry/callsentry/internal/deepfake"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/phishing"
)

// Transport is the boundary to the call-signaling/media layer. The session
// only ever asks it to start or stop forwarding the local microphone.
type Transport interface {
	// SetMicrophoneTransmission starts (true) or stops (false) forwarding
	// the local microphone into the call. Failures are logged by the caller;
	// the muted flag still reflects intent.
	SetMicrophoneTransmission(enabled bool) error
}

// Notifier is the boundary to the presentation layer. Implementations must
// not block for long: every method is invoked from the session event loop.
type Notifier interface {
	// NotifyTranscript delivers one transcript line for live captions.
	NotifyTranscript(speaker dialogue.Speaker, text string, isFinal bool)

	// NotifyDeepfake delivers an authenticity verdict once it clears the
	// hysteresis: every authentic verdict, but a synthetic one only after a
	// qualifying streak. Silence skips and classifier failures produce no
	// call.
	NotifyDeepfake(verdict deepfake.Verdict)

	// NotifyDeepfakeWarning requests the modal deepfake warning, after
	// hysteresis and cooldown have been applied.
	NotifyDeepfakeWarning(confidence float64)

	// NotifyRisk delivers the outcome of a phishing-risk evaluation.
	NotifyRisk(eval phishing.Evaluation)

	// NotifyMute reports a change of the microphone suppression banner.
	NotifyMute(muted bool)
}
