package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/callsentry/callsentry/internal/call"
	"github.com/callsentry/callsentry/internal/deepfake"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/phishing"
)

// writeTimeout bounds each outbound websocket write so a stalled client
// cannot block the session event loop.
const writeTimeout = 5 * time.Second

// Client wraps one websocket connection to a call participant's device. It
// implements [call.Transport] (microphone commands travel back over the same
// socket) and [call.Notifier] (UI events).
//
// Writes are serialized by a mutex; all methods are safe for concurrent use.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Compile-time interface assertions.
var (
	_ call.Transport = (*Client)(nil)
	_ call.Notifier  = (*Client)(nil)
)

// NewClient wraps an accepted websocket connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// event payloads pushed to the device.
type (
	micCommand struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
	}
	transcriptEvent struct {
		Type    string `json:"type"`
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Final   bool   `json:"final"`
	}
	deepfakeEvent struct {
		Type       string  `json:"type"`
		Authentic  bool    `json:"authentic"`
		Confidence float64 `json:"confidence"`
	}
	deepfakeWarningEvent struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	riskEvent struct {
		Type        string  `json:"type"`
		Level       string  `json:"level"`
		Flagged     bool    `json:"flagged"`
		Probability float64 `json:"probability"`
	}
	muteEvent struct {
		Type  string `json:"type"`
		Muted bool   `json:"muted"`
	}
)

func (c *Client) write(v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, v)
}

// SetMicrophoneTransmission implements [call.Transport]. The device applies
// the command to its capture path.
func (c *Client) SetMicrophoneTransmission(enabled bool) error {
	return c.write(micCommand{Type: "mic", Enabled: enabled})
}

// NotifyTranscript implements [call.Notifier].
func (c *Client) NotifyTranscript(speaker dialogue.Speaker, text string, isFinal bool) {
	_ = c.write(transcriptEvent{
		Type:    "transcript",
		Speaker: speaker.String(),
		Text:    text,
		Final:   isFinal,
	})
}

// NotifyDeepfake implements [call.Notifier].
func (c *Client) NotifyDeepfake(v deepfake.Verdict) {
	_ = c.write(deepfakeEvent{
		Type:       "deepfake",
		Authentic:  v.Authentic,
		Confidence: v.Confidence,
	})
}

// NotifyDeepfakeWarning implements [call.Notifier].
func (c *Client) NotifyDeepfakeWarning(confidence float64) {
	_ = c.write(deepfakeWarningEvent{Type: "deepfake_warning", Confidence: confidence})
}

// NotifyRisk implements [call.Notifier].
func (c *Client) NotifyRisk(e phishing.Evaluation) {
	_ = c.write(riskEvent{
		Type:        "risk",
		Level:       e.Level.String(),
		Flagged:     e.Flagged,
		Probability: e.Probability,
	})
}

// NotifyMute implements [call.Notifier].
func (c *Client) NotifyMute(muted bool) {
	_ = c.write(muteEvent{Type: "mute", Muted: muted})
}
