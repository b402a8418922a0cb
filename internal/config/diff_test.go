package config_test

import (
	"testing"

	"github.com/voxbridge/voxbridge/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
			AuthTokens: map[string]string{"tok": "alice"},
		},
		Store: config.StoreConfig{Backend: config.StoreMemory},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "mock"},
		},
	}
}

func TestDiffEmpty(t *testing.T) {
	t.Parallel()
	if d := config.Diff(baseConfig(), baseConfig()); !d.Empty() {
		t.Errorf("identical configs should diff empty: %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff: %+v", d)
	}
	if d.RestartRequired {
		t.Error("log level change must not require restart")
	}
}

func TestDiffAuthTokens(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.AuthTokens = map[string]string{"tok": "alice", "tok2": "bob"}

	d := config.Diff(old, new)
	if !d.AuthTokensChanged || d.RestartRequired {
		t.Errorf("auth token diff: %+v", d)
	}
}

func TestDiffPipelineAppliesToNewCalls(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Pipeline.Segmenter.MaxUtteranceMS = 4000

	d := config.Diff(old, new)
	if !d.PipelineChanged || d.RestartRequired {
		t.Errorf("pipeline diff: %+v", d)
	}
}

func TestDiffProvidersRequireRestart(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.STT.Name = "deepgram"

	if d := config.Diff(old, new); !d.RestartRequired {
		t.Errorf("provider diff: %+v", d)
	}
}

func TestDiffStoreRequiresRestart(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Store.Backend = config.StorePostgres
	new.Store.PostgresDSN = "postgres://localhost/voxbridge"

	if d := config.Diff(old, new); !d.RestartRequired {
		t.Errorf("store diff: %+v", d)
	}
}
