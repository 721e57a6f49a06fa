// Package mock holds hand-rolled test doubles for the stt interfaces.
//
// Provider records every StartStream call so tests can assert on the
// StreamConfig the caller built. Session hands out caller-owned transcript
// channels: a test sends the Transcript values it wants the consumer to see
// and closes the channels when the script is over.
package mock

import (
	"context"
	"sync"

	"github.com/callsentry/callsentry/pkg/provider/stt"
)

// StartStreamCall is one recorded Provider.StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scriptable stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned from StartStream. Left nil, every call gets a
	// fresh Session with buffered channels.
	Session stt.SessionHandle

	// StartStreamErr makes StartStream fail, for exercising failover and
	// cleanup paths.
	StartStreamErr error

	// StartStreamCalls collects invocations in order.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}, nil
}

// Reset forgets recorded calls so one Provider can span several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// SendAudioCall is one recorded Session.SendAudio invocation.
type SendAudioCall struct {
	// Chunk is a copy of the delivered bytes, safe to inspect after the
	// caller reuses its buffer.
	Chunk []byte
}

// Session is a scriptable stt.SessionHandle. The test owns PartialsCh and
// FinalsCh: it populates and closes them.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr fails every SendAudio call when set.
	SendAudioErr error

	// CloseErr is returned from Close.
	CloseErr error

	// SendAudioCalls collects delivered chunks in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

var _ stt.SessionHandle = (*Session)(nil)

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
