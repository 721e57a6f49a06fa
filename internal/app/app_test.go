package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/callsentry/callsentry/internal/call"
	"github.com/callsentry/callsentry/internal/config"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/gateway"
	"github.com/callsentry/callsentry/internal/resilience"
	"github.com/callsentry/callsentry/internal/store"
	"github.com/callsentry/callsentry/pkg/audio"
	"github.com/callsentry/callsentry/pkg/provider/authenticity"
	authmock "github.com/callsentry/callsentry/pkg/provider/authenticity/mock"
	"github.com/callsentry/callsentry/pkg/provider/risk"
	riskmock "github.com/callsentry/callsentry/pkg/provider/risk/mock"
	"github.com/callsentry/callsentry/pkg/provider/stt"
	sttmock "github.com/callsentry/callsentry/pkg/provider/stt/mock"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// closingSession closes its transcript channels on Close, matching the
// documented SessionHandle contract that real providers follow.
type closingSession struct {
	*sttmock.Session
	once sync.Once
}

func (s *closingSession) Close() error {
	err := s.Session.Close()
	s.once.Do(func() {
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
	return err
}

// seqSTT hands out a fixed sequence of sessions so tests can tell the two
// per-direction streams apart.
type seqSTT struct {
	mu       sync.Mutex
	sessions []*closingSession
	configs  []stt.StreamConfig
	next     int
	err      error
}

func (p *seqSTT) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	if p.next >= len(p.sessions) {
		if p.err != nil {
			return nil, p.err
		}
		return nil, errors.New("no more sessions")
	}
	s := p.sessions[p.next]
	p.next++
	return s, nil
}

func newMockSession() *closingSession {
	return &closingSession{
		Session: &sttmock.Session{
			PartialsCh: make(chan stt.Transcript, 16),
			FinalsCh:   make(chan stt.Transcript, 16),
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{
			STT:          config.ProviderChain{Primary: config.ProviderEntry{Name: "fake"}},
			Authenticity: config.ProviderChain{Primary: config.ProviderEntry{Name: "fake"}},
			Risk:         config.ProviderChain{Primary: config.ProviderEntry{Name: "fake"}},
		},
		Protection: config.ProtectionConfig{
			Mode:                call.ModeStandard,
			AutoMute:            true,
			MonitorPersonalInfo: true,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, sttProv stt.Provider) (*App, *riskmock.Provider) {
	t.Helper()
	auth := &authmock.Provider{Results: []authenticity.Scores{{Authentic: 4, Synthetic: 0}}}
	riskProv := &riskmock.Provider{}

	reg := config.NewRegistry()
	reg.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) { return sttProv, nil })
	reg.RegisterAuthenticity("fake", func(config.ProviderEntry) (authenticity.Provider, error) { return auth, nil })
	reg.RegisterRisk("fake", func(config.ProviderEntry) (risk.Provider, error) { return riskProv, nil })

	a, err := New(context.Background(), cfg, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a, riskProv
}

// newWSClient builds a real server-side websocket client with a device peer
// that discards everything it receives.
func newWSClient(t *testing.T) *gateway.Client {
	t.Helper()
	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	device, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = device.Close(websocket.StatusNormalClosure, "") })
	go func() {
		for {
			if _, _, err := device.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	conn := <-serverConn
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return gateway.NewClient(conn)
}

func TestDefaultRegistryProviders(t *testing.T) {
	t.Parallel()
	reg := DefaultRegistry()

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "key"}); err != nil {
		t.Fatalf("deepgram: %v", err)
	}
	if _, err := reg.CreateAuthenticity(config.ProviderEntry{Name: "torchserve", BaseURL: "http://localhost:8085", Model: "aasist"}); err != nil {
		t.Fatalf("torchserve: %v", err)
	}
	if _, err := reg.CreateRisk(config.ProviderEntry{Name: "openai", APIKey: "key", Model: "gpt-4o-mini"}); err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestNewWrapsChainsWithFallbacks(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.STT.Fallbacks = []config.ProviderEntry{{Name: "fake"}}

	prov := &seqSTT{}
	a, _ := newTestApp(t, cfg, prov)

	if _, ok := a.sttProvider.(*resilience.STTFallback); !ok {
		t.Fatalf("expected STTFallback wrapper, got %T", a.sttProvider)
	}
}

func TestNewKeepsBareProviderWithoutFallbacks(t *testing.T) {
	t.Parallel()
	prov := &seqSTT{}
	a, _ := newTestApp(t, testConfig(), prov)

	if _, ok := a.sttProvider.(*seqSTT); !ok {
		t.Fatalf("expected bare provider, got %T", a.sttProvider)
	}
}

func TestStartCallOpensStreamPerDirection(t *testing.T) {
	t.Parallel()
	local, remote := newMockSession(), newMockSession()
	prov := &seqSTT{sessions: []*closingSession{local, remote}}
	a, _ := newTestApp(t, testConfig(), prov)

	sess, err := a.StartCall(context.Background(), newWSClient(t), "call-1")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	defer sess.Close()

	if len(prov.configs) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(prov.configs))
	}
	for _, cfg := range prov.configs {
		if cfg.SampleRate != audio.SampleRate || cfg.Channels != 1 {
			t.Fatalf("unexpected stream config %+v", cfg)
		}
	}

	sess.OnAudio(dialogue.SpeakerLocal, []int16{1, 2, 3})
	if len(local.SendAudioCalls) != 1 || len(remote.SendAudioCalls) != 0 {
		t.Fatalf("local audio misrouted: local=%d remote=%d", len(local.SendAudioCalls), len(remote.SendAudioCalls))
	}
	sess.OnAudio(dialogue.SpeakerRemote, []int16{4, 5, 6})
	if len(remote.SendAudioCalls) != 1 {
		t.Fatalf("remote audio misrouted: remote=%d", len(remote.SendAudioCalls))
	}
}

func TestStartCallPumpsFinalsIntoEvaluation(t *testing.T) {
	t.Parallel()
	local, remote := newMockSession(), newMockSession()
	prov := &seqSTT{sessions: []*closingSession{local, remote}}
	a, riskProv := newTestApp(t, testConfig(), prov)

	sess, err := a.StartCall(context.Background(), newWSClient(t), "call-1")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	defer sess.Close()

	remote.FinalsCh <- stt.Transcript{Text: "this is your bank calling", IsFinal: true, Timestamp: time.Now()}
	local.FinalsCh <- stt.Transcript{Text: "which bank", IsFinal: true, Timestamp: time.Now()}

	waitFor(t, func() bool { return riskProv.CallCount() >= 1 })
	riskProv.Reset()

	// Partials drive captions only and never reach the classifier.
	remote.PartialsCh <- stt.Transcript{Text: "please tran", IsFinal: false}
	time.Sleep(20 * time.Millisecond)
	if riskProv.CallCount() != 0 {
		t.Fatal("partial transcript triggered an evaluation")
	}
}

func TestStartCallAppliesSavedSettings(t *testing.T) {
	t.Parallel()
	prov := &seqSTT{sessions: []*closingSession{newMockSession(), newMockSession()}}
	a, _ := newTestApp(t, testConfig(), prov)

	err := a.settings.SaveSettings(context.Background(), store.Settings{
		Mode:                call.ModeStrict,
		AutoMute:            false,
		MonitorPersonalInfo: true,
	})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	sess, err := a.StartCall(context.Background(), newWSClient(t), "call-1")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	defer sess.Close()

	state := sess.State()
	if state.Mode != call.ModeStrict {
		t.Fatalf("expected saved mode, got %s", state.Mode)
	}
	if state.AutoMuteEnabled {
		t.Fatal("expected auto-mute off from saved settings")
	}
}

func TestSettingsChangesPersistAcrossCalls(t *testing.T) {
	t.Parallel()
	prov := &seqSTT{sessions: []*closingSession{newMockSession(), newMockSession()}}
	a, _ := newTestApp(t, testConfig(), prov)

	sess, err := a.StartCall(context.Background(), newWSClient(t), "call-1")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	defer sess.Close()

	sess.SetAutoMute(false)
	waitFor(t, func() bool {
		saved, ok, err := a.settings.LoadSettings(context.Background())
		return err == nil && ok && !saved.AutoMute
	})

	sess.SetMode(call.ModeStrict)
	waitFor(t, func() bool {
		saved, ok, err := a.settings.LoadSettings(context.Background())
		return err == nil && ok && saved.Mode == call.ModeStrict
	})
}

func TestStartCallStreamFailureCleansUp(t *testing.T) {
	t.Parallel()
	first := newMockSession()
	prov := &seqSTT{sessions: []*closingSession{first}, err: errors.New("deepgram unavailable")}
	a, _ := newTestApp(t, testConfig(), prov)

	if _, err := a.StartCall(context.Background(), newWSClient(t), "call-1"); err == nil {
		t.Fatal("expected error when the second stream cannot be opened")
	}
	if first.CloseCallCount == 0 {
		t.Fatal("first stream left open after failed start")
	}
}

func TestCloseTearsDownStreams(t *testing.T) {
	t.Parallel()
	local, remote := newMockSession(), newMockSession()
	prov := &seqSTT{sessions: []*closingSession{local, remote}}
	a, _ := newTestApp(t, testConfig(), prov)

	sess, err := a.StartCall(context.Background(), newWSClient(t), "call-1")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	sess.Close()
	sess.Close() // idempotent

	if local.CloseCallCount == 0 || remote.CloseCallCount == 0 {
		t.Fatal("streams not closed")
	}
}
