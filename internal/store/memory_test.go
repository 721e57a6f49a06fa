package store

import (
	"context"
	"testing"
	"time"

	"github.com/callsentry/callsentry/internal/call"
)

func TestMemory_SettingsRoundTrip(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false before any save")
	}

	want := Settings{Mode: call.ModeStrict, AutoMute: true, MonitorPersonalInfo: true}
	if err := m.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, ok, err := m.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after save")
	}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestMemory_SaveOverwrites(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_ = m.SaveSettings(ctx, Settings{Mode: call.ModeStandard, AutoMute: true})
	_ = m.SaveSettings(ctx, Settings{Mode: call.ModeStrict, AutoMute: false})

	got, _, err := m.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.Mode != call.ModeStrict || got.AutoMute {
		t.Errorf("settings = %+v, want the second save", got)
	}
}

func TestMemory_AlertsNewestFirst(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, kind := range []AlertKind{AlertDeepfake, AlertPhishing, AlertDisclosure} {
		err := m.AppendAlert(ctx, Alert{
			CallID:    "call-1",
			Kind:      kind,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendAlert: %v", err)
		}
	}

	got, err := m.RecentAlerts(ctx, "call-1", 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d alerts, want 3", len(got))
	}
	if got[0].Kind != AlertDisclosure || got[2].Kind != AlertDeepfake {
		t.Errorf("alerts not newest first: %+v", got)
	}
	if got[0].ID <= got[2].ID {
		t.Errorf("IDs not assigned in append order: %+v", got)
	}
}

func TestMemory_AlertsFilterByCall(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_ = m.AppendAlert(ctx, Alert{CallID: "call-1", Kind: AlertDeepfake})
	_ = m.AppendAlert(ctx, Alert{CallID: "call-2", Kind: AlertPhishing})
	_ = m.AppendAlert(ctx, Alert{CallID: "call-1", Kind: AlertDisclosure})

	got, err := m.RecentAlerts(ctx, "call-2", 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 1 || got[0].Kind != AlertPhishing {
		t.Errorf("filtered alerts = %+v, want only call-2's", got)
	}

	all, err := m.RecentAlerts(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d alerts across calls, want 3", len(all))
	}
}

func TestMemory_AlertsLimit(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	for range 5 {
		_ = m.AppendAlert(ctx, Alert{CallID: "call-1", Kind: AlertDeepfake})
	}

	got, err := m.RecentAlerts(ctx, "call-1", 2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d alerts, want 2", len(got))
	}
}

func TestMemory_AppendStampsCreatedAt(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_ = m.AppendAlert(ctx, Alert{CallID: "call-1", Kind: AlertDeepfake})
	got, _ := m.RecentAlerts(ctx, "call-1", 1)
	if len(got) != 1 || got[0].CreatedAt.IsZero() {
		t.Errorf("CreatedAt not stamped: %+v", got)
	}
}

func TestAlertKindIsValid(t *testing.T) {
	t.Parallel()
	for _, k := range []AlertKind{AlertDeepfake, AlertPhishing, AlertDisclosure} {
		if !k.IsValid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if AlertKind("spam").IsValid() {
		t.Error("unknown kind should be invalid")
	}
}
