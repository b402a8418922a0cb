package config_test

import (
	"testing"

	"github.com/voxbridge/voxbridge/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should be invalid")
	}
}

func TestStoreBackendIsValid(t *testing.T) {
	t.Parallel()
	if !config.StoreMemory.IsValid() || !config.StorePostgres.IsValid() {
		t.Error("built-in backends should be valid")
	}
	if config.StoreBackend("redis").IsValid() {
		t.Error("\"redis\" should be invalid")
	}
}
