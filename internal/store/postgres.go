package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callsentry/callsentry/internal/call"
)

// Compile-time interface checks.
var (
	_ SettingsStore = (*Postgres)(nil)
	_ AlertLog      = (*Postgres)(nil)
)

const ddl = `
CREATE TABLE IF NOT EXISTS protection_settings (
    id                    INT          PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    mode                  TEXT         NOT NULL,
    auto_mute             BOOLEAN      NOT NULL,
    monitor_personal_info BOOLEAN      NOT NULL,
    updated_at            TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL,
    kind        TEXT         NOT NULL,
    detail      TEXT         NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alerts_call_id ON alerts (call_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at);
`

// Postgres is the PostgreSQL-backed settings and alert store. It holds a
// single [pgxpool.Pool]; all methods are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store, establishes a connection pool to the
// database at dsn, and runs [Migrate] to ensure the required tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the settings and alerts tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool for health checks.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

// Close releases all connections held by the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// LoadSettings implements [SettingsStore].
func (p *Postgres) LoadSettings(ctx context.Context) (Settings, bool, error) {
	const q = `
		SELECT mode, auto_mute, monitor_personal_info
		FROM   protection_settings
		WHERE  id = 1`

	var (
		s    Settings
		mode string
	)
	err := p.pool.QueryRow(ctx, q).Scan(&mode, &s.AutoMute, &s.MonitorPersonalInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("settings store: load: %w", err)
	}
	s.Mode = call.Mode(mode)
	return s, true, nil
}

// SaveSettings implements [SettingsStore]. The settings row is a singleton;
// saving replaces the previous values.
func (p *Postgres) SaveSettings(ctx context.Context, s Settings) error {
	const q = `
		INSERT INTO protection_settings (id, mode, auto_mute, monitor_personal_info, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET mode = EXCLUDED.mode,
		    auto_mute = EXCLUDED.auto_mute,
		    monitor_personal_info = EXCLUDED.monitor_personal_info,
		    updated_at = now()`

	if _, err := p.pool.Exec(ctx, q, string(s.Mode), s.AutoMute, s.MonitorPersonalInfo); err != nil {
		return fmt.Errorf("settings store: save: %w", err)
	}
	return nil
}

// AppendAlert implements [AlertLog].
func (p *Postgres) AppendAlert(ctx context.Context, a Alert) error {
	const q = `
		INSERT INTO alerts (call_id, kind, detail, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := p.pool.Exec(ctx, q, a.CallID, string(a.Kind), a.Detail, a.Confidence, createdAt); err != nil {
		return fmt.Errorf("alert log: append: %w", err)
	}
	return nil
}

// RecentAlerts implements [AlertLog].
func (p *Postgres) RecentAlerts(ctx context.Context, callID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, call_id, kind, detail, confidence, created_at
		FROM   alerts`
	args := []any{}
	if callID != "" {
		q += "\n\t\tWHERE  call_id = $1"
		args = append(args, callID)
	}
	args = append(args, limit)
	q += fmt.Sprintf("\n\t\tORDER  BY created_at DESC, id DESC\n\t\tLIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("alert log: query: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Alert, error) {
		var (
			a    Alert
			kind string
		)
		if err := row.Scan(&a.ID, &a.CallID, &kind, &a.Detail, &a.Confidence, &a.CreatedAt); err != nil {
			return Alert{}, err
		}
		a.Kind = AlertKind(kind)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("alert log: scan rows: %w", err)
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}
