// Package deepgram streams call audio to the Deepgram realtime API over
// WebSocket and adapts the Results events to the stt interfaces.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/callsentry/callsentry/pkg/provider/stt"
)

const (
	liveEndpoint      = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var errClosed = errors.New("deepgram: session closed")

// Provider implements stt.Provider on top of the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// Option adjusts provider defaults.
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 recognition language. A non-empty
// StreamConfig.Language wins over this.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default PCM sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// New builds a Provider for the given API key.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   liveEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// streamURL resolves the endpoint with query parameters for cfg, falling
// back to provider defaults for unset fields.
func (p *Provider) streamURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	language := p.language
	if cfg.Language != "" {
		language = cfg.Language
	}
	sampleRate := p.sampleRate
	if cfg.SampleRate != 0 {
		sampleRate = cfg.SampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StartStream dials the realtime endpoint and starts the send and receive
// loops for one transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.streamURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: stream url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		outbound: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
	s.loops.Add(2)
	go s.receiveLoop(ctx)
	go s.sendLoop(ctx)
	return s, nil
}

// resultsEvent is the subset of a Deepgram Results message this session
// consumes. Other event types are skipped.
type resultsEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcriptFromEvent converts one raw WebSocket message into a Transcript.
// The second return is false for events that carry no transcript.
func transcriptFromEvent(data []byte) (stt.Transcript, bool) {
	var ev resultsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return stt.Transcript{}, false
	}
	if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	best := ev.Channel.Alternatives[0]
	return stt.Transcript{
		Text:       best.Transcript,
		IsFinal:    ev.IsFinal,
		Confidence: best.Confidence,
		Timestamp:  time.Now(),
	}, true
}

type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	outbound chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

// SendAudio queues one PCM chunk for delivery. Fails once the session is
// closed.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closed:
		return errClosed
	default:
	}
	select {
	case s.outbound <- chunk:
		return nil
	case <-s.closed:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close asks Deepgram to flush buffered audio, waits for both loops, then
// drops the connection. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.loops.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) sendLoop(ctx context.Context) {
	defer s.loops.Done()
	for {
		select {
		case chunk := <-s.outbound:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.closed:
			s.flush(ctx)
			return
		}
	}
}

// flush pushes whatever audio is still queued at close time.
func (s *session) flush(ctx context.Context) {
	for {
		select {
		case chunk := <-s.outbound:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) receiveLoop(ctx context.Context) {
	defer s.loops.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// connection gone or context cancelled
			return
		}
		t, ok := transcriptFromEvent(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.closed:
		}
	}
}
