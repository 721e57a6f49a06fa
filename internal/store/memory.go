package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ SettingsStore = (*Memory)(nil)
	_ AlertLog      = (*Memory)(nil)
)

// Memory is an in-memory settings and alert store. It is used when no
// PostgreSQL DSN is configured; contents are lost on restart.
// Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	settings Settings
	saved    bool
	alerts   []Alert
	nextID   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// LoadSettings implements [SettingsStore].
func (m *Memory) LoadSettings(_ context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.saved, nil
}

// SaveSettings implements [SettingsStore].
func (m *Memory) SaveSettings(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	m.saved = true
	return nil
}

// AppendAlert implements [AlertLog].
func (m *Memory) AppendAlert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID
	m.nextID++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.alerts = append(m.alerts, a)
	return nil
}

// RecentAlerts implements [AlertLog]. Alerts are returned newest first.
func (m *Memory) RecentAlerts(_ context.Context, callID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if callID != "" && m.alerts[i].CallID != callID {
			continue
		}
		out = append(out, m.alerts[i])
	}
	return out, nil
}
