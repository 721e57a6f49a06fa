package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames holds the built-in provider names per kind. Validate
// warns about names outside this list instead of rejecting them, so a
// deployment can register its own factories.
var ValidProviderNames = map[string][]string{
	"stt":          {"deepgram"},
	"authenticity": {"torchserve"},
	"risk":         {"openai"},
}

// Load parses and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r and validates the result. Unknown keys
// are rejected so a misspelled option fails loudly instead of silently
// keeping its default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every problem in cfg into one joined error. Missing
// optional pieces (providers, storage) only warn; the service degrades
// rather than refusing to start.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("authenticity", cfg.Providers.Authenticity)...)
	errs = append(errs, validateChain("risk", cfg.Providers.Risk)...)

	if cfg.Providers.STT.Primary.Name == "" {
		slog.Warn("no stt provider configured, transcription and risk evaluation stay off")
	}
	if cfg.Providers.Authenticity.Primary.Name == "" {
		slog.Warn("no authenticity provider configured, deepfake detection stays off")
	}
	if cfg.Providers.Risk.Primary.Name == "" {
		slog.Warn("no risk provider configured, dialogue risk evaluation stays off")
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty, settings and alerts will not survive a restart")
	}

	if cfg.Protection.Mode != "" && !cfg.Protection.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("protection.mode %q is invalid; valid values: STANDARD, STRICT", cfg.Protection.Mode))
	}
	if cfg.Protection.MuteSeconds < 0 {
		errs = append(errs, fmt.Errorf("protection.mute_seconds %d is negative", cfg.Protection.MuteSeconds))
	}
	if cfg.Protection.MuteSeconds > 120 {
		errs = append(errs, fmt.Errorf("protection.mute_seconds %d is out of range [0, 120]", cfg.Protection.MuteSeconds))
	}

	return errors.Join(errs...)
}

// validateChain rejects duplicate names within one chain and fallbacks
// without a primary.
func validateChain(kind string, chain ProviderChain) []error {
	var errs []error

	if chain.Primary.Name == "" && len(chain.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks configured without a primary", kind))
	}

	seen := make(map[string]bool, 1+len(chain.Fallbacks))
	for _, entry := range chain.All() {
		if entry.Name == "" {
			continue
		}
		if seen[entry.Name] {
			errs = append(errs, fmt.Errorf("providers.%s: provider %q appears more than once in the chain", kind, entry.Name))
		}
		seen[entry.Name] = true
		warnUnknownProvider(kind, entry.Name)
	}
	return errs
}

func warnUnknownProvider(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("provider name not built in, assuming custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
