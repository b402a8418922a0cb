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

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"deepgram", "mock"},
	"translate": {"openai", "mock"},
	"tts":       {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}
	if len(cfg.Server.AuthTokens) == 0 {
		slog.Warn("server.auth_tokens is empty; every connection will be rejected as unauthenticated")
	}
	seen := make(map[string]string, len(cfg.Server.AuthTokens))
	for token, user := range cfg.Server.AuthTokens {
		if user == "" {
			errs = append(errs, errors.New("server.auth_tokens contains a token with an empty user id"))
		}
		if prev, ok := seen[user]; ok && prev != token {
			slog.Warn("user has multiple auth tokens", "user", user)
		}
		seen[user] = token
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	// Provider entries. The same checks apply to a stage's fallback entry.
	errs = append(errs, validateProviderEntry("stt", cfg.Providers.STT)...)
	errs = append(errs, validateProviderEntry("translate", cfg.Providers.Translate)...)
	errs = append(errs, validateProviderEntry("tts", cfg.Providers.TTS)...)

	// Pipeline bounds. Zero means default; negatives are always mistakes.
	p := cfg.Pipeline
	for _, check := range []struct {
		name  string
		value int
	}{
		{"pipeline.segmenter.silence_threshold_ms", p.Segmenter.SilenceThresholdMS},
		{"pipeline.segmenter.max_utterance_ms", p.Segmenter.MaxUtteranceMS},
		{"pipeline.segmenter.min_speech_ms", p.Segmenter.MinSpeechMS},
		{"pipeline.segmenter.inbound_queue", p.Segmenter.InboundQueue},
		{"pipeline.router.translate_timeout_ms", p.Router.TranslateTimeoutMS},
		{"pipeline.router.synthesize_timeout_ms", p.Router.SynthesizeTimeoutMS},
		{"pipeline.router.context_depth", p.Router.ContextDepth},
		{"pipeline.router.dedup_ttl_ms", p.Router.DedupTTLMS},
		{"pipeline.call.max_participants", p.Call.MaxParticipants},
		{"pipeline.call.max_sessions", p.Call.MaxSessions},
		{"pipeline.call.outbound_queue", p.Call.OutboundQueue},
		{"pipeline.call.tts_cache_capacity", p.Call.TTSCacheCapacity},
		{"pipeline.call.grace_ms", p.Call.GraceMS},
	} {
		if check.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", check.name))
		}
	}
	if p.Segmenter.RMSThreshold < 0 {
		errs = append(errs, errors.New("pipeline.segmenter.rms_threshold must not be negative"))
	}
	if p.Segmenter.MinSpeechMS > 0 && p.Segmenter.MaxUtteranceMS > 0 && p.Segmenter.MinSpeechMS > p.Segmenter.MaxUtteranceMS {
		errs = append(errs, errors.New("pipeline.segmenter.min_speech_ms must not exceed max_utterance_ms"))
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks one stage's provider entry and, when present,
// its fallback. Only one fallback level is supported.
func validateProviderEntry(stage string, e ProviderEntry) []error {
	var errs []error
	validateProviderName(stage, e.Name)
	if (e.Name == "deepgram" || e.Name == "openai") && e.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.%s: %s requires api_key", stage, e.Name))
	}
	if e.Fallback != nil {
		fb := *e.Fallback
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback: name is required", stage))
		}
		validateProviderName(stage, fb.Name)
		if (fb.Name == "deepgram" || fb.Name == "openai") && fb.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback: %s requires api_key", stage, fb.Name))
		}
		if fb.Fallback != nil {
			errs = append(errs, fmt.Errorf("providers.%s.fallback: fallbacks do not chain", stage))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given stage.
func validateProviderName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[stage]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
