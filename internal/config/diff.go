package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs, split by how the
// change can be applied.
type ConfigDiff struct {
	// LogLevelChanged is hot-applied to the running logger.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AuthTokensChanged is hot-applied; new connections authenticate
	// against the updated token set.
	AuthTokensChanged bool

	// PipelineChanged applies to calls created after the reload. Calls
	// already in progress keep their tunables.
	PipelineChanged bool

	// RestartRequired marks changes to the listen address, TLS, store, or
	// providers, none of which can be swapped under live calls.
	RestartRequired bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AuthTokensChanged && !d.PipelineChanged && !d.RestartRequired
}

// Diff compares old and new configs and classifies what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !maps.Equal(old.Server.AuthTokens, new.Server.AuthTokens) {
		d.AuthTokensChanged = true
	}
	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = true
	}
	if old.Store != new.Store {
		d.RestartRequired = true
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = true
	}
	return d
}
