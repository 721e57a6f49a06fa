package config

// ConfigDiff reports the hot-reloadable differences between two configs.
// Listener, provider, and storage changes still need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProtectionChanged covers any protection default. New defaults apply
	// to calls started after the reload; live sessions keep what they have.
	ProtectionChanged bool
	NewProtection     ProtectionConfig
}

// Diff computes the reload actions needed to move from old to new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Protection != new.Protection {
		d.ProtectionChanged = true
		d.NewProtection = new.Protection
	}
	return d
}
