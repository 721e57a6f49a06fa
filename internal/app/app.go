// Package app wires configuration, providers, stores, and the gateway into a
// running CallSentry instance, and manages the per-call session lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callsentry/callsentry/internal/config"
	"github.com/callsentry/callsentry/internal/deepfake"
	"github.com/callsentry/callsentry/internal/gateway"
	"github.com/callsentry/callsentry/internal/guard"
	"github.com/callsentry/callsentry/internal/health"
	"github.com/callsentry/callsentry/internal/observe"
	"github.com/callsentry/callsentry/internal/phishing"
	"github.com/callsentry/callsentry/internal/resilience"
	"github.com/callsentry/callsentry/internal/store"
	"github.com/callsentry/callsentry/pkg/provider/authenticity"
	"github.com/callsentry/callsentry/pkg/provider/authenticity/torchserve"
	"github.com/callsentry/callsentry/pkg/provider/risk"
	riskopenai "github.com/callsentry/callsentry/pkg/provider/risk/openai"
	"github.com/callsentry/callsentry/pkg/provider/stt"
	"github.com/callsentry/callsentry/pkg/provider/stt/deepgram"
)

// fallbackConfig is the circuit-breaker policy applied to every provider
// chain.
var fallbackConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	},
}

// App owns the long-lived pieces of a CallSentry instance: providers, stores,
// the analysis pipelines shared across calls, and the gateway handler.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// protectionMu guards the configured defaults, which a config reload can
	// replace. Saved user settings still take precedence.
	protectionMu sync.RWMutex
	protection   config.ProtectionConfig

	sttProvider stt.Provider
	pipeline    *deepfake.Pipeline
	evaluator   *phishing.Evaluator
	guard       *guard.Guard

	settings store.SettingsStore
	alerts   store.AlertLog
	postgres *store.Postgres

	gateway *gateway.Server
}

// DefaultRegistry returns a [config.Registry] with the built-in provider
// factories registered.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{}
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang, ok := e.Options["language"].(string); ok && lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterAuthenticity("torchserve", func(e config.ProviderEntry) (authenticity.Provider, error) {
		return torchserve.New(e.BaseURL, e.Model)
	})

	reg.RegisterRisk("openai", func(e config.ProviderEntry) (risk.Provider, error) {
		opts := []riskopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, riskopenai.WithBaseURL(e.BaseURL))
		}
		return riskopenai.New(e.APIKey, e.Model, opts...)
	})

	return reg
}

// New assembles an App from the loaded configuration. metrics may be nil in
// tests.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*App, error) {
	a := &App{
		cfg:        cfg,
		metrics:    metrics,
		protection: cfg.Protection,
		guard:      guard.New(),
	}

	if cfg.Storage.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.postgres = pg
		a.settings = pg
		a.alerts = pg
	} else {
		mem := store.NewMemory()
		a.settings = mem
		a.alerts = mem
	}

	sttProvider, err := buildSTT(reg, cfg.Providers.STT)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sttProvider = sttProvider

	authProvider, err := buildAuthenticity(reg, cfg.Providers.Authenticity)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = deepfake.NewPipeline(authProvider, metrics)

	riskProvider, err := buildRisk(reg, cfg.Providers.Risk)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.evaluator = phishing.NewEvaluator(riskProvider, metrics)

	a.gateway = gateway.New(a, a.settings, a.alerts, metrics)
	return a, nil
}

// Handler returns the gateway HTTP handler with health endpoints attached.
func (a *App) Handler() *gateway.Server { return a.gateway }

// HealthCheckers returns the readiness checkers for this instance.
func (a *App) HealthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.postgres != nil {
		checkers = append(checkers, health.DatabaseChecker(a.postgres.Pool()))
	}
	return checkers
}

// Close releases stores and shared resources. Active call sessions close
// themselves when their connections drop.
func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
}

func buildSTT(reg *config.Registry, chain config.ProviderChain) (stt.Provider, error) {
	primary, err := reg.CreateSTT(chain.Primary)
	if err != nil {
		return nil, fmt.Errorf("app: stt provider: %w", err)
	}
	if len(chain.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewSTTFallback(primary, chain.Primary.Name, fallbackConfig)
	for _, entry := range chain.Fallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

func buildAuthenticity(reg *config.Registry, chain config.ProviderChain) (authenticity.Provider, error) {
	primary, err := reg.CreateAuthenticity(chain.Primary)
	if err != nil {
		return nil, fmt.Errorf("app: authenticity provider: %w", err)
	}
	if len(chain.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewAuthenticityFallback(primary, chain.Primary.Name, fallbackConfig)
	for _, entry := range chain.Fallbacks {
		p, err := reg.CreateAuthenticity(entry)
		if err != nil {
			return nil, fmt.Errorf("app: authenticity fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

func buildRisk(reg *config.Registry, chain config.ProviderChain) (risk.Provider, error) {
	primary, err := reg.CreateRisk(chain.Primary)
	if err != nil {
		return nil, fmt.Errorf("app: risk provider: %w", err)
	}
	if len(chain.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewRiskFallback(primary, chain.Primary.Name, fallbackConfig)
	for _, entry := range chain.Fallbacks {
		p, err := reg.CreateRisk(entry)
		if err != nil {
			return nil, fmt.Errorf("app: risk fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

// UpdateProtection replaces the configured protection defaults. Calls already
// in progress keep their current settings; new calls pick up the change.
func (a *App) UpdateProtection(p config.ProtectionConfig) {
	a.protectionMu.Lock()
	a.protection = p
	a.protectionMu.Unlock()
	slog.Info("protection defaults updated",
		"mode", p.Mode,
		"auto_mute", p.AutoMute,
		"monitor_personal_info", p.MonitorPersonalInfo,
	)
}

// protectionDefaults resolves the settings applied to a new call: saved user
// settings when present, configured defaults otherwise.
func (a *App) protectionDefaults(ctx context.Context) store.Settings {
	saved, ok, err := a.settings.LoadSettings(ctx)
	if err != nil {
		slog.Warn("failed to load saved settings, using configured defaults", "error", err)
	} else if ok {
		return saved
	}
	a.protectionMu.RLock()
	defer a.protectionMu.RUnlock()
	return store.Settings{
		Mode:                a.protection.Mode,
		AutoMute:            a.protection.AutoMute,
		MonitorPersonalInfo: a.protection.MonitorPersonalInfo,
	}
}

// muteDuration returns the configured auto-mute window, or zero to use the
// built-in default.
func (a *App) muteDuration() time.Duration {
	a.protectionMu.RLock()
	defer a.protectionMu.RUnlock()
	return time.Duration(a.protection.MuteSeconds) * time.Second
}
