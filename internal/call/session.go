package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/callsentry/callsentry/internal/deepfake"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/guard"
	"github.com/callsentry/callsentry/internal/observe"
	"github.com/callsentry/callsentry/internal/phishing"
)

const (
	// DefaultMuteDuration is how long the microphone stays suppressed after
	// a mute trigger.
	DefaultMuteDuration = 10 * time.Second

	// DefaultWarningCooldown is the minimum interval between two surfaced
	// deepfake warnings.
	DefaultWarningCooldown = 10 * time.Second

	// streakThreshold is the number of consecutive synthetic verdicts
	// required before a warning can surface.
	streakThreshold = 2

	// warningConfidence is the confidence a qualifying verdict must exceed.
	warningConfidence = 0.7

	eventBuffer = 64
)

// Config assembles the collaborators and initial settings for one Session.
type Config struct {
	// Transport receives microphone transmission commands. Required.
	Transport Transport

	// Notifier receives UI update events. Required.
	Notifier Notifier

	// Guard is the personal-info pattern guard. Required.
	Guard *guard.Guard

	// Pipeline is the deepfake classification pipeline. Required.
	Pipeline *deepfake.Pipeline

	// Evaluator is the phishing-risk evaluator. Required.
	Evaluator *phishing.Evaluator

	// Metrics may be nil in tests.
	Metrics *observe.Metrics

	// Mode is the initial protection mode. Defaults to ModeStandard.
	Mode Mode

	// AutoMuteEnabled is the initial auto-mute toggle.
	AutoMuteEnabled bool

	// MonitoringActive is the initial personal-info monitoring toggle.
	MonitoringActive bool

	// MuteDuration overrides DefaultMuteDuration. Intended for tests.
	MuteDuration time.Duration

	// WarningCooldown overrides DefaultWarningCooldown. Intended for tests.
	WarningCooldown time.Duration

	// WindowSamples overrides the analysis window size. Intended for tests.
	WindowSamples int

	// Clock overrides time.Now. Intended for tests.
	Clock func() time.Time

	// OnDisclosure, when set, is invoked from the event loop whenever a
	// personal-information disclosure triggers the microphone mute. Used to
	// persist alerts; must not block.
	OnDisclosure func(category guard.Category)

	// OnWarning, when set, is invoked from the event loop for every surfaced
	// deepfake warning. Must not block.
	OnWarning func(confidence float64)

	// OnRiskChange, when set, is invoked from the event loop for every
	// completed risk evaluation. Must not block.
	OnRiskChange func(e phishing.Evaluation)
}

// session event loop messages.
type (
	verdictEvent  struct{ v deepfake.Verdict }
	riskEvent     struct{ e phishing.Evaluation }
	interimEvent  struct {
		speaker dialogue.Speaker
		text    string
	}
	finalEvent       struct{ turn dialogue.Turn }
	confirmEvent     struct{}
	setModeEvent     struct{ mode Mode }
	setAutoMuteEvent struct{ enabled bool }
	setMonitorEvent  struct{ active bool }
	muteTimeoutEvent struct{ gen uint64 }
)

// Session is the protection state machine for one live call.
//
// All state mutations are serialized through a single event-loop goroutine;
// producers (audio path, transcript streams, classifier completions, user
// actions) only post events. The remote audio path bypasses the loop and
// feeds the assembler directly, which is lock-based and never blocks on the
// classifier.
type Session struct {
	ctx       context.Context
	transport Transport
	notifier  Notifier
	guard     *guard.Guard
	metrics   *observe.Metrics

	muteDuration time.Duration
	cooldown     time.Duration
	now          func() time.Time

	history     *dialogue.History
	assembler   *deepfake.Assembler
	coordinator *phishing.Coordinator

	events    chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	onDisclosure func(category guard.Category)
	onWarning    func(confidence float64)
	onRiskChange func(e phishing.Evaluation)

	stateMu sync.RWMutex
	state   ProtectionState

	// muteTimer is the single pending unmute timer. timerGen invalidates
	// stale timer fires after a re-entrant mute restarts the window.
	muteTimer *time.Timer
	timerGen  uint64

	// tally counts what happened during the call for the closing summary.
	// Loop goroutine only; Close reads it after the loop has stopped.
	tally struct {
		turns       int
		verdicts    int
		warnings    int
		evaluations int
		mutes       int
	}
}

// NewSession builds and starts the session for one call. The caller owns the
// session and must call Close at call end; ctx should be the call's context.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	switch {
	case cfg.Transport == nil:
		return nil, errors.New("call: Transport is required")
	case cfg.Notifier == nil:
		return nil, errors.New("call: Notifier is required")
	case cfg.Guard == nil:
		return nil, errors.New("call: Guard is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("call: Pipeline is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("call: Evaluator is required")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeStandard
	}
	if !mode.IsValid() {
		return nil, errors.New("call: invalid protection mode " + string(mode))
	}

	s := &Session{
		ctx:          ctx,
		transport:    cfg.Transport,
		notifier:     cfg.Notifier,
		guard:        cfg.Guard,
		metrics:      cfg.Metrics,
		muteDuration: cfg.MuteDuration,
		cooldown:     cfg.WarningCooldown,
		now:          cfg.Clock,
		onDisclosure: cfg.OnDisclosure,
		onWarning:    cfg.OnWarning,
		onRiskChange: cfg.OnRiskChange,
		history:      &dialogue.History{},
		events:       make(chan any, eventBuffer),
		done:         make(chan struct{}),
		state: ProtectionState{
			Mode:             mode,
			AutoMuteEnabled:  cfg.AutoMuteEnabled,
			MonitoringActive: cfg.MonitoringActive,
			RiskLevel:        phishing.LevelNormal,
		},
	}
	if s.muteDuration <= 0 {
		s.muteDuration = DefaultMuteDuration
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultWarningCooldown
	}
	if s.now == nil {
		s.now = time.Now
	}

	var assemblerOpts []deepfake.AssemblerOption
	if cfg.WindowSamples > 0 {
		assemblerOpts = append(assemblerOpts, deepfake.WithTargetSamples(cfg.WindowSamples))
	}
	s.assembler = deepfake.NewAssembler(ctx, cfg.Pipeline,
		func(v deepfake.Verdict) { s.post(verdictEvent{v}) },
		assemblerOpts...)
	s.coordinator = phishing.NewCoordinator(ctx, cfg.Evaluator, s.history,
		func(e phishing.Evaluation) { s.post(riskEvent{e}) })

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// post delivers an event to the loop unless the session is closed.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// loop is the single goroutine that owns all ProtectionState mutations.
func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case verdictEvent:
		s.handleVerdict(ev.v)
	case riskEvent:
		s.handleRisk(ev.e)
	case interimEvent:
		s.notifier.NotifyTranscript(ev.speaker, ev.text, false)
	case finalEvent:
		s.handleFinal(ev.turn)
	case confirmEvent:
		s.handleConfirm()
	case setModeEvent:
		s.stateMu.Lock()
		s.state.Mode = ev.mode
		s.stateMu.Unlock()
	case setAutoMuteEvent:
		s.stateMu.Lock()
		s.state.AutoMuteEnabled = ev.enabled
		s.stateMu.Unlock()
	case setMonitorEvent:
		s.stateMu.Lock()
		s.state.MonitoringActive = ev.active
		s.stateMu.Unlock()
	case muteTimeoutEvent:
		s.handleMuteTimeout(ev.gen)
	}
}

// ---- producer-facing API ----

// OnRemoteAudio ingests one frame of remote PCM samples. Cheap and
// non-blocking; safe to call from the audio delivery path.
func (s *Session) OnRemoteAudio(samples []int16) {
	s.assembler.Ingest(samples)
}

// OnInterim forwards an interim transcript line to the UI. Interims never
// touch the dialogue history or the protection state.
func (s *Session) OnInterim(speaker dialogue.Speaker, text string) {
	s.post(interimEvent{speaker: speaker, text: text})
}

// OnFinal records a completed utterance from one transcript stream.
func (s *Session) OnFinal(speaker dialogue.Speaker, text string, completedAt time.Time) {
	s.post(finalEvent{turn: dialogue.Turn{
		Speaker:     speaker,
		Text:        text,
		CompletedAt: completedAt,
	}})
}

// ConfirmRiskWarning records the user acknowledging a critical-risk warning.
func (s *Session) ConfirmRiskWarning() {
	s.post(confirmEvent{})
}

// SetMode changes the protection mode.
func (s *Session) SetMode(m Mode) {
	if m.IsValid() {
		s.post(setModeEvent{mode: m})
	}
}

// SetAutoMute toggles the auto-mute action.
func (s *Session) SetAutoMute(enabled bool) {
	s.post(setAutoMuteEvent{enabled: enabled})
}

// SetMonitoring toggles the personal-info guard.
func (s *Session) SetMonitoring(active bool) {
	s.post(setMonitorEvent{active: active})
}

// State returns a snapshot of the protection state. Reads are eventually
// consistent with respect to in-flight events.
func (s *Session) State() ProtectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Close tears the session down: the pending unmute timer is cancelled,
// in-flight classification results are discarded, and the event loop stops.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		if s.muteTimer != nil {
			s.muteTimer.Stop()
		}
		s.timerGen++
		s.stateMu.Unlock()

		close(s.done)
		s.wg.Wait()
		s.assembler.Close()
		s.coordinator.Close()

		slog.Info("call session closed",
			"turns", s.tally.turns,
			"verdicts", s.tally.verdicts,
			"warnings", s.tally.warnings,
			"risk_evaluations", s.tally.evaluations,
			"mutes", s.tally.mutes)
	})
}

// ---- event handlers (loop goroutine only) ----

// handleVerdict applies the consecutive-detection hysteresis. Authentic
// verdicts are surfaced immediately and reset the streak; a synthetic
// verdict is surfaced only once a full streak with high confidence has
// accumulated, so a single isolated detection never reaches the device. The
// warning additionally requires an expired cooldown. A qualifying streak
// resets even when the cooldown suppresses the warning.
func (s *Session) handleVerdict(v deepfake.Verdict) {
	s.tally.verdicts++

	s.stateMu.Lock()
	if v.Authentic {
		s.state.DeepfakeStreak = 0
		s.stateMu.Unlock()
		s.notifier.NotifyDeepfake(v)
		return
	}
	s.state.DeepfakeStreak++
	if s.state.DeepfakeStreak < streakThreshold || v.Confidence <= warningConfidence {
		s.stateMu.Unlock()
		return
	}
	s.state.DeepfakeStreak = 0

	now := s.now()
	inCooldown := !s.state.LastWarningAt.IsZero() && now.Sub(s.state.LastWarningAt) < s.cooldown
	if !inCooldown {
		s.state.LastWarningAt = now
	}
	s.stateMu.Unlock()

	s.notifier.NotifyDeepfake(v)
	if inCooldown {
		slog.Debug("deepfake warning suppressed by cooldown", "confidence", v.Confidence)
		return
	}
	s.tally.warnings++
	if s.metrics != nil {
		s.metrics.DeepfakeWarnings.Add(s.ctx, 1)
	}
	slog.Warn("deepfake warning", "confidence", v.Confidence)
	s.notifier.NotifyDeepfakeWarning(v.Confidence)
	if s.onWarning != nil {
		s.onWarning(v.Confidence)
	}
}

// handleRisk latches the risk level. The latch updates on every completed
// evaluation regardless of monitoring state.
func (s *Session) handleRisk(e phishing.Evaluation) {
	s.tally.evaluations++
	s.stateMu.Lock()
	s.state.RiskLevel = e.Level
	s.stateMu.Unlock()

	slog.Info("risk evaluation completed",
		"level", e.Level.String(),
		"flagged", e.Flagged,
		"probability", e.Probability)
	s.notifier.NotifyRisk(e)
	if s.onRiskChange != nil {
		s.onRiskChange(e)
	}
}

// handleFinal records a completed turn: UI line, personal-info guard for
// local speech, then the coordinator with the mute state at arrival.
func (s *Session) handleFinal(turn dialogue.Turn) {
	s.tally.turns++
	s.notifier.NotifyTranscript(turn.Speaker, turn.Text, true)

	if turn.Speaker == dialogue.SpeakerLocal {
		s.inspectLocalTurn(turn.Text)
	}

	s.stateMu.RLock()
	muted := s.state.MicMuted
	s.stateMu.RUnlock()
	s.coordinator.OnFinal(turn, muted)
}

// inspectLocalTurn runs the personal-info guard over one local turn. A match
// at critical risk triggers the mute timer; a match at normal risk is only
// logged. Monitoring continues either way.
func (s *Session) inspectLocalTurn(text string) {
	s.stateMu.RLock()
	active := s.state.MonitoringActive
	critical := s.state.RiskLevel == phishing.LevelCritical
	s.stateMu.RUnlock()
	if !active {
		return
	}

	m, ok := s.guard.Inspect(text)
	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordGuardMatch(s.ctx, m.Category.String())
	}
	if !critical {
		slog.Info("personal info mentioned at normal risk",
			"category", m.Category.String())
		return
	}
	slog.Warn("personal info disclosure during critical risk, muting microphone",
		"category", m.Category.String())
	s.muteFor(s.muteDuration)
	if s.onDisclosure != nil {
		s.onDisclosure(m.Category)
	}
}

// handleConfirm applies the risk-confirmation action: with auto-mute enabled
// the microphone is suppressed. Both modes currently resolve to the same
// action; the switch is the reserved policy branch point.
func (s *Session) handleConfirm() {
	s.stateMu.RLock()
	enabled := s.state.AutoMuteEnabled
	mode := s.state.Mode
	s.stateMu.RUnlock()

	if !enabled {
		slog.Info("risk warning confirmed, auto-mute disabled")
		return
	}
	switch mode {
	case ModeStrict:
		s.muteFor(s.muteDuration)
	default:
		s.muteFor(s.muteDuration)
	}
}

// muteFor suppresses the microphone and (re)schedules the unmute. Re-entrant:
// a mute while already muted restarts the single timer, so exactly one
// pending unmute exists at any time.
func (s *Session) muteFor(d time.Duration) {
	s.tally.mutes++
	s.stateMu.Lock()
	s.state.MicMuted = true
	s.state.UnmuteDeadline = s.now().Add(d)
	s.timerGen++
	gen := s.timerGen
	if s.muteTimer == nil {
		s.muteTimer = time.AfterFunc(d, func() { s.post(muteTimeoutEvent{gen: gen}) })
	} else {
		s.muteTimer.Stop()
		s.muteTimer = time.AfterFunc(d, func() { s.post(muteTimeoutEvent{gen: gen}) })
	}
	s.stateMu.Unlock()

	if err := s.transport.SetMicrophoneTransmission(false); err != nil {
		slog.Error("failed to stop microphone transmission", "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordMuteCommand(s.ctx, "mute")
	}
	s.notifier.NotifyMute(true)
}

// handleMuteTimeout restores the microphone when the firing timer is still
// the current one. A stale fire from before a re-entrant mute is ignored.
func (s *Session) handleMuteTimeout(gen uint64) {
	s.stateMu.Lock()
	if gen != s.timerGen || !s.state.MicMuted {
		s.stateMu.Unlock()
		return
	}
	s.state.MicMuted = false
	s.state.UnmuteDeadline = time.Time{}
	s.stateMu.Unlock()

	if err := s.transport.SetMicrophoneTransmission(true); err != nil {
		slog.Error("failed to restore microphone transmission", "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordMuteCommand(s.ctx, "unmute")
	}
	s.notifier.NotifyMute(false)
}
