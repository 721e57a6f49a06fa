// Package store persists protection settings and alert history.
//
// Two backends are provided: a PostgreSQL implementation for production
// ([NewPostgres]) and an in-memory implementation ([NewMemory]) used when no
// DSN is configured and in tests.
package store

import (
	"context"
	"time"

	"github.com/callsentry/callsentry/internal/call"
)

// AlertKind classifies a persisted alert.
type AlertKind string

const (
	// AlertDeepfake records a surfaced synthetic-voice warning.
	AlertDeepfake AlertKind = "deepfake"

	// AlertPhishing records a dialogue risk escalation to CRITICAL.
	AlertPhishing AlertKind = "phishing"

	// AlertDisclosure records a personal-information disclosure that
	// triggered the microphone mute.
	AlertDisclosure AlertKind = "disclosure"
)

// IsValid reports whether k is a recognised alert kind.
func (k AlertKind) IsValid() bool {
	switch k {
	case AlertDeepfake, AlertPhishing, AlertDisclosure:
		return true
	}
	return false
}

// Alert is one protection event persisted for post-call review.
type Alert struct {
	// ID is assigned by the store on append.
	ID int64

	// CallID identifies the call session the alert belongs to.
	CallID string

	// Kind classifies the alert.
	Kind AlertKind

	// Detail is a short human-readable description (e.g. the personal-info
	// category, never the disclosed value itself).
	Detail string

	// Confidence is the classifier confidence or probability behind the
	// alert, in [0, 1]. Zero for disclosure alerts.
	Confidence float64

	// CreatedAt is when the alert was raised.
	CreatedAt time.Time
}

// Settings are the persisted protection defaults applied to new calls.
type Settings struct {
	Mode                call.Mode
	AutoMute            bool
	MonitorPersonalInfo bool
}

// SettingsStore persists the user's protection defaults.
type SettingsStore interface {
	// LoadSettings returns the saved settings. ok is false when nothing has
	// been saved yet; callers should fall back to configured defaults.
	LoadSettings(ctx context.Context) (s Settings, ok bool, err error)

	// SaveSettings replaces the saved settings.
	SaveSettings(ctx context.Context, s Settings) error
}

// AlertLog persists protection alerts.
type AlertLog interface {
	// AppendAlert records one alert. The store assigns ID and, when zero,
	// CreatedAt.
	AppendAlert(ctx context.Context, a Alert) error

	// RecentAlerts returns up to limit alerts for callID, newest first.
	// An empty callID returns alerts across all calls.
	RecentAlerts(ctx context.Context, callID string, limit int) ([]Alert, error)
}
