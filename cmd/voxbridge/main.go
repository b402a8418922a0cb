// Command voxbridge is the main entry point for the VoxBridge translation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/voxbridge/voxbridge/internal/call"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/route"
	"github.com/voxbridge/voxbridge/internal/segment"
	"github.com/voxbridge/voxbridge/internal/server"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/store/postgres"
	"github.com/voxbridge/voxbridge/pkg/speech"
	"github.com/voxbridge/voxbridge/pkg/speech/deepgram"
	"github.com/voxbridge/voxbridge/pkg/speech/mock"
	"github.com/voxbridge/voxbridge/pkg/speech/openai"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxbridge.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var lets the config watcher adjust verbosity at runtime.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration (watched for hot reloads) ───────────────────────────────
	var srv *server.Server
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(logLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.AuthTokensChanged && srv != nil {
			srv.UpdateAuthTokens(new.Server.AuthTokens)
			slog.Info("auth tokens reloaded", "count", len(new.Server.AuthTokens))
		}
		if d.PipelineChanged {
			slog.Warn("pipeline tunables changed; calls already in progress keep the old values")
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	level.Set(logLevel(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxbridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Speech providers ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	adapter, err := reg.CreateAdapter(cfg.Providers)
	if err != nil {
		slog.Error("failed to build speech providers", "err", err)
		return 1
	}
	adapter = observe.InstrumentAdapter(adapter, metrics)
	slog.Info("speech providers created",
		"stt", cfg.Providers.STT.Name,
		"translate", cfg.Providers.Translate.Name,
		"tts", cfg.Providers.TTS.Name,
	)

	// ── Session store ─────────────────────────────────────────────────────────
	repo, checkers, closeRepo, err := buildStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to initialise session store", "err", err)
		return 1
	}
	defer closeRepo()

	// ── Hub and HTTP server ───────────────────────────────────────────────────
	hub := call.NewHub(callConfig(cfg.Pipeline), repo, adapter, metrics, logger)
	srv = server.New(listenAddr, cfg.Server.AuthTokens, hub, repo, metrics, logger, checkers...)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server ready, press Ctrl+C to shut down")
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the provider factories that ship with
// VoxBridge into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (speech.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (speech.Recognizer, error) {
		return &mock.Recognizer{}, nil
	})

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (speech.Translator, error) {
		return newOpenAI(entry)
	})
	reg.RegisterTranslate("mock", func(config.ProviderEntry) (speech.Translator, error) {
		return &mock.Translator{}, nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (speech.Synthesizer, error) {
		return newOpenAI(entry)
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (speech.Synthesizer, error) {
		return &mock.Synthesizer{}, nil
	})
}

func newOpenAI(entry config.ProviderEntry) (*openai.Client, error) {
	var opts []openai.Option
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	if entry.Model != "" {
		opts = append(opts, openai.WithChatModel(entry.Model))
	}
	if m := optString(entry.Options, "speech_model"); m != "" {
		opts = append(opts, openai.WithSpeechModel(m))
	}
	return openai.New(entry.APIKey, opts...)
}

// buildStore creates the configured session repository alongside its
// readiness checkers and closer.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, []health.Checker, func(), error) {
	switch cfg.Backend {
	case config.StorePostgres:
		repo, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		checkers := []health.Checker{{Name: "store", Check: repo.Ping}}
		return repo, checkers, repo.Close, nil
	case config.StoreMemory, "":
		checkers := []health.Checker{{
			Name:  "store",
			Check: func(context.Context) error { return nil },
		}}
		return store.NewMemory(), checkers, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// callConfig converts the YAML pipeline block to the orchestrator config.
func callConfig(p config.PipelineConfig) call.Config {
	return call.Config{
		MaxParticipants:  p.Call.MaxParticipants,
		MaxSessions:      p.Call.MaxSessions,
		OutboundQueue:    p.Call.OutboundQueue,
		Grace:            time.Duration(p.Call.GraceMS) * time.Millisecond,
		TTSCacheCapacity: p.Call.TTSCacheCapacity,
		Segment: segment.Config{
			RMSThreshold:       p.Segmenter.RMSThreshold,
			SilenceThresholdMS: p.Segmenter.SilenceThresholdMS,
			MaxUtteranceMS:     p.Segmenter.MaxUtteranceMS,
			MinSpeechMS:        p.Segmenter.MinSpeechMS,
			QueueSize:          p.Segmenter.InboundQueue,
		},
		Route: route.Config{
			DedupTTL:          time.Duration(p.Router.DedupTTLMS) * time.Millisecond,
			ContextDepth:      p.Router.ContextDepth,
			TranslateTimeout:  time.Duration(p.Router.TranslateTimeoutMS) * time.Millisecond,
			SynthesizeTimeout: time.Duration(p.Router.SynthesizeTimeoutMS) * time.Millisecond,
		},
	}
}

func logLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
