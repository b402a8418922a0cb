package config_test

import (
	"strings"
	"testing"

	"github.com/voxbridge/voxbridge/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  auth_tokens:
    tok-alice: alice
    tok-bob: bob
store:
  backend: memory
providers:
  stt:
    name: deepgram
    api_key: dg-key
  translate:
    name: openai
    api_key: oa-key
  tts:
    name: openai
    api_key: oa-key
pipeline:
  segmenter:
    silence_threshold_ms: 400
    max_utterance_ms: 5000
  call:
    max_participants: 4
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.AuthTokens["tok-alice"] != "alice" {
		t.Errorf("auth_tokens: %v", cfg.Server.AuthTokens)
	}
	if cfg.Pipeline.Segmenter.MaxUtteranceMS != 5000 {
		t.Errorf("max_utterance_ms: %d", cfg.Pipeline.Segmenter.MaxUtteranceMS)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adress: ":8080"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
store:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_DeepgramRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: deepgram
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for deepgram without api key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_FallbackRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  translate:
    name: mock
    fallback:
      name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for openai fallback without api key, got nil")
	}
	if !strings.Contains(err.Error(), "fallback") || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention the fallback api_key, got: %v", err)
	}
}

func TestValidate_FallbacksDoNotChain(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  tts:
    name: mock
    fallback:
      name: mock
      fallback:
        name: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for chained fallbacks, got nil")
	}
	if !strings.Contains(err.Error(), "chain") {
		t.Errorf("error should mention chaining, got: %v", err)
	}
}

func TestValidate_NegativePipelineValue(t *testing.T) {
	t.Parallel()
	yaml := `
pipeline:
  segmenter:
    min_speech_ms: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative duration, got nil")
	}
	if !strings.Contains(err.Error(), "min_speech_ms") {
		t.Errorf("error should mention min_speech_ms, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
store:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "postgres_dsn") {
		t.Errorf("joined error should report both failures, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, stage := range []string{"stt", "translate", "tts"} {
		if len(config.ValidProviderNames[stage]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", stage)
		}
	}
}
