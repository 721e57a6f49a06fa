// Package gateway exposes the CallSentry server surface: a websocket endpoint
// carrying call audio and protection events, and a small REST API for
// settings and alert history.
//
// Wire protocol on /ws/call:
//
//   - Binary frames carry 16 kHz mono PCM16LE audio. The first byte is the
//     direction (0x00 = local microphone, 0x01 = remote party), the rest is
//     the sample payload.
//   - Text frames are JSON control messages from the device (confirm_risk,
//     set_mode, set_auto_mute, set_monitoring, state).
//   - The server pushes JSON events (transcript, deepfake, deepfake_warning,
//     risk, mute) and microphone commands (mic) on the same socket.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/callsentry/callsentry/internal/call"
	"github.com/callsentry/callsentry/internal/dialogue"
	"github.com/callsentry/callsentry/internal/observe"
	"github.com/callsentry/callsentry/internal/store"
	"github.com/callsentry/callsentry/pkg/audio"
)

// audio frame direction prefix bytes.
const (
	directionLocal  = 0x00
	directionRemote = 0x01
)

// CallSession is the server-side handle for one protected call. The app
// layer implements it by wiring a [call.Session] to the STT streams.
type CallSession interface {
	// OnAudio ingests one frame of PCM samples for the given speaker.
	OnAudio(speaker dialogue.Speaker, samples []int16)

	ConfirmRiskWarning()
	SetMode(m call.Mode)
	SetAutoMute(enabled bool)
	SetMonitoring(active bool)
	State() call.ProtectionState
	Close()
}

// Starter creates a [CallSession] for an accepted device connection.
type Starter interface {
	StartCall(ctx context.Context, client *Client, callID string) (CallSession, error)
}

// Server handles websocket call connections and the REST API.
type Server struct {
	starter  Starter
	settings store.SettingsStore
	alerts   store.AlertLog
	metrics  *observe.Metrics
}

// New creates a gateway server. metrics may be nil in tests.
func New(starter Starter, settings store.SettingsStore, alerts store.AlertLog, metrics *observe.Metrics) *Server {
	return &Server{
		starter:  starter,
		settings: settings,
		alerts:   alerts,
		metrics:  metrics,
	}
}

// Handler returns the HTTP handler for the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/call", s.handleCall)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/alerts", s.handleGetAlerts)

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// control messages received from the device.
type controlMessage struct {
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Active  bool   `json:"active,omitempty"`
}

// stateReply is the response to a "state" control message.
type stateReply struct {
	Type             string `json:"type"`
	Mode             string `json:"mode"`
	AutoMuteEnabled  bool   `json:"auto_mute_enabled"`
	MonitoringActive bool   `json:"monitoring_active"`
	RiskLevel        string `json:"risk_level"`
	MicMuted         bool   `json:"mic_muted"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		http.Error(w, "call_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Audio frames can arrive faster than the default read limit allows.
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()
	client := NewClient(conn)

	session, err := s.starter.StartCall(ctx, client, callID)
	if err != nil {
		slog.Error("failed to start call session", "call_id", callID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	defer session.Close()

	if s.metrics != nil {
		s.metrics.ActiveCalls.Add(ctx, 1)
		defer s.metrics.ActiveCalls.Add(ctx, -1)
	}
	slog.Info("call connected", "call_id", callID, "remote", r.RemoteAddr)
	defer slog.Info("call disconnected", "call_id", callID)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			s.handleAudioFrame(session, callID, data)
		case websocket.MessageText:
			s.handleControl(ctx, conn, session, callID, data)
		}
	}
}

func (s *Server) handleAudioFrame(session CallSession, callID string, frame []byte) {
	if len(frame) < 2 {
		return
	}
	samples := audio.DecodePCM16(frame[1:])
	switch frame[0] {
	case directionLocal:
		session.OnAudio(dialogue.SpeakerLocal, samples)
	case directionRemote:
		session.OnAudio(dialogue.SpeakerRemote, samples)
	default:
		slog.Debug("dropping audio frame with unknown direction",
			"call_id", callID, "direction", frame[0])
	}
}

func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, session CallSession, callID string, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("ignoring malformed control message", "call_id", callID, "error", err)
		return
	}

	switch msg.Type {
	case "confirm_risk":
		session.ConfirmRiskWarning()
	case "set_mode":
		mode, err := call.ParseMode(msg.Mode)
		if err != nil {
			slog.Warn("rejected mode change", "call_id", callID, "mode", msg.Mode)
			return
		}
		session.SetMode(mode)
	case "set_auto_mute":
		session.SetAutoMute(msg.Enabled)
	case "set_monitoring":
		session.SetMonitoring(msg.Active)
	case "state":
		st := session.State()
		_ = wsjson.Write(ctx, conn, stateReply{
			Type:             "state",
			Mode:             string(st.Mode),
			AutoMuteEnabled:  st.AutoMuteEnabled,
			MonitoringActive: st.MonitoringActive,
			RiskLevel:        st.RiskLevel.String(),
			MicMuted:         st.MicMuted,
		})
	default:
		slog.Debug("ignoring unknown control message", "call_id", callID, "type", msg.Type)
	}
}

// settingsPayload is the REST representation of persisted protection defaults.
type settingsPayload struct {
	Mode                string `json:"mode"`
	AutoMute            bool   `json:"auto_mute"`
	MonitorPersonalInfo bool   `json:"monitor_personal_info"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, ok, err := s.settings.LoadSettings(r.Context())
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no settings saved", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload{
		Mode:                string(settings.Mode),
		AutoMute:            settings.AutoMute,
		MonitorPersonalInfo: settings.MonitorPersonalInfo,
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed settings payload", http.StatusBadRequest)
		return
	}
	mode, err := call.ParseMode(payload.Mode)
	if err != nil {
		http.Error(w, "invalid protection mode", http.StatusBadRequest)
		return
	}
	err = s.settings.SaveSettings(r.Context(), store.Settings{
		Mode:                mode,
		AutoMute:            payload.AutoMute,
		MonitorPersonalInfo: payload.MonitorPersonalInfo,
	})
	if err != nil {
		slog.Error("failed to save settings", "error", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// alertPayload is the REST representation of one persisted alert.
type alertPayload struct {
	ID         int64   `json:"id"`
	CallID     string  `json:"call_id"`
	Kind       string  `json:"kind"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts, err := s.alerts.RecentAlerts(r.Context(), r.URL.Query().Get("call_id"), limit)
	if err != nil {
		slog.Error("failed to load alerts", "error", err)
		http.Error(w, "failed to load alerts", http.StatusInternalServerError)
		return
	}

	out := make([]alertPayload, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertPayload{
			ID:         a.ID,
			CallID:     a.CallID,
			Kind:       string(a.Kind),
			Detail:     a.Detail,
			Confidence: a.Confidence,
			CreatedAt:  a.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
