package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callsentry/callsentry/internal/call"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/gateway"
	"github.com/callsentry/callsentry/internal/guard"
	"github.com/callsentry/callsentry/internal/phishing"
	"github.com/callsentry/callsentry/internal/store"
	"github.com/callsentry/callsentry/pkg/audio"
	"github.com/callsentry/callsentry/pkg/provider/stt"
)

// activeCall binds one protection session to its two per-direction STT
// streams and implements [gateway.CallSession].
type activeCall struct {
	app     *App
	callID  string
	session *call.Session

	localSTT  stt.SessionHandle
	remoteSTT stt.SessionHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	// settingsMu guards the toggles mirrored for persistence. The session's
	// own state lags behind Set* calls by one event-loop turn, so the saved
	// value is tracked here instead of read back.
	settingsMu sync.Mutex
	settings   store.Settings
}

// StartCall implements [gateway.Starter]. It opens the STT streams, builds
// the protection session around the connected client, and starts the
// transcript pump goroutines.
func (a *App) StartCall(ctx context.Context, client *gateway.Client, callID string) (gateway.CallSession, error) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	settings := a.protectionDefaults(ctx)

	session, err := call.NewSession(callCtx, call.Config{
		Transport:        client,
		Notifier:         client,
		Guard:            a.guard,
		Pipeline:         a.pipeline,
		Evaluator:        a.evaluator,
		Metrics:          a.metrics,
		Mode:             settings.Mode,
		AutoMuteEnabled:  settings.AutoMute,
		MonitoringActive: settings.MonitorPersonalInfo,
		MuteDuration:     a.muteDuration(),
		OnWarning: func(confidence float64) {
			a.appendAlert(callCtx, store.Alert{
				CallID:     callID,
				Kind:       store.AlertDeepfake,
				Detail:     "synthetic voice warning",
				Confidence: confidence,
			})
		},
		OnRiskChange: func(e phishing.Evaluation) {
			if e.Level != phishing.LevelCritical {
				return
			}
			a.appendAlert(callCtx, store.Alert{
				CallID:     callID,
				Kind:       store.AlertPhishing,
				Detail:     "voice phishing risk " + e.Level.String(),
				Confidence: e.Probability,
			})
		},
		OnDisclosure: func(category guard.Category) {
			a.appendAlert(callCtx, store.Alert{
				CallID: callID,
				Kind:   store.AlertDisclosure,
				Detail: category.String(),
			})
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: start session: %w", err)
	}

	streamCfg := stt.StreamConfig{
		SampleRate: audio.SampleRate,
		Channels:   1,
		Language:   a.sttLanguage(),
	}
	localSTT, err := a.sttProvider.StartStream(callCtx, streamCfg)
	if err != nil {
		session.Close()
		cancel()
		return nil, fmt.Errorf("app: local stt stream: %w", err)
	}
	remoteSTT, err := a.sttProvider.StartStream(callCtx, streamCfg)
	if err != nil {
		_ = localSTT.Close()
		session.Close()
		cancel()
		return nil, fmt.Errorf("app: remote stt stream: %w", err)
	}

	c := &activeCall{
		app:       a,
		callID:    callID,
		session:   session,
		localSTT:  localSTT,
		remoteSTT: remoteSTT,
		cancel:    cancel,
		settings:  settings,
	}
	c.wg.Add(2)
	go c.pump(dialogue.SpeakerLocal, localSTT)
	go c.pump(dialogue.SpeakerRemote, remoteSTT)

	slog.Info("call started", "call_id", callID)
	return c, nil
}

func (a *App) sttLanguage() string {
	if lang, ok := a.cfg.Providers.STT.Primary.Options["language"].(string); ok {
		return lang
	}
	return ""
}

func (a *App) appendAlert(ctx context.Context, alert store.Alert) {
	if err := a.alerts.AppendAlert(ctx, alert); err != nil {
		slog.Error("failed to persist alert", "call_id", alert.CallID, "kind", alert.Kind, "error", err)
	}
}

// pump forwards one STT stream's transcripts into the session until both
// channels close.
func (c *activeCall) pump(speaker dialogue.Speaker, handle stt.SessionHandle) {
	defer c.wg.Done()

	partials := handle.Partials()
	finals := handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if t.Text != "" {
				c.session.OnInterim(speaker, t.Text)
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if t.Text == "" {
				continue
			}
			completedAt := t.Timestamp
			if completedAt.IsZero() {
				completedAt = time.Now()
			}
			c.session.OnFinal(speaker, t.Text, completedAt)
		}
	}
}

// OnAudio implements [gateway.CallSession]. Both directions are transcribed;
// only remote audio feeds the authenticity pipeline.
func (c *activeCall) OnAudio(speaker dialogue.Speaker, samples []int16) {
	if len(samples) == 0 {
		return
	}
	chunk := audio.EncodePCM16(samples)
	switch speaker {
	case dialogue.SpeakerLocal:
		if c.session.State().MicMuted {
			// Keep the stream ticking so turn boundaries still resolve,
			// but nothing spoken while muted reaches the transcriber.
			chunk = make([]byte, len(chunk))
		}
		if err := c.localSTT.SendAudio(chunk); err != nil {
			slog.Warn("local stt rejected audio", "call_id", c.callID, "error", err)
		}
	case dialogue.SpeakerRemote:
		if err := c.remoteSTT.SendAudio(chunk); err != nil {
			slog.Warn("remote stt rejected audio", "call_id", c.callID, "error", err)
		}
		c.session.OnRemoteAudio(samples)
	}
}

func (c *activeCall) ConfirmRiskWarning() { c.session.ConfirmRiskWarning() }

func (c *activeCall) SetMode(m call.Mode) {
	if !m.IsValid() {
		return
	}
	c.session.SetMode(m)
	c.persistSettings(func(s *store.Settings) { s.Mode = m })
}

func (c *activeCall) SetAutoMute(enabled bool) {
	c.session.SetAutoMute(enabled)
	c.persistSettings(func(s *store.Settings) { s.AutoMute = enabled })
}

func (c *activeCall) SetMonitoring(active bool) {
	c.session.SetMonitoring(active)
	c.persistSettings(func(s *store.Settings) { s.MonitorPersonalInfo = active })
}

func (c *activeCall) State() call.ProtectionState { return c.session.State() }

// persistSettings applies one toggle change and saves the result so it
// survives across calls.
func (c *activeCall) persistSettings(apply func(*store.Settings)) {
	c.settingsMu.Lock()
	apply(&c.settings)
	saved := c.settings
	c.settingsMu.Unlock()

	if err := c.app.settings.SaveSettings(context.Background(), saved); err != nil {
		slog.Error("failed to persist settings", "call_id", c.callID, "error", err)
	}
}

// Close tears down the STT streams and the protection session. Safe to call
// more than once.
func (c *activeCall) Close() {
	c.closeOnce.Do(func() {
		if err := c.localSTT.Close(); err != nil {
			slog.Warn("local stt close failed", "call_id", c.callID, "error", err)
		}
		if err := c.remoteSTT.Close(); err != nil {
			slog.Warn("remote stt close failed", "call_id", c.callID, "error", err)
		}
		c.wg.Wait()
		c.session.Close()
		c.cancel()
		slog.Info("call ended", "call_id", c.callID)
	})
}
