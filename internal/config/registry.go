package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (speech.Recognizer, error)
	translate map[string]func(ProviderEntry) (speech.Translator, error)
	tts       map[string]func(ProviderEntry) (speech.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (speech.Recognizer, error)),
		translate: make(map[string]func(ProviderEntry) (speech.Translator, error)),
		tts:       make(map[string]func(ProviderEntry) (speech.Synthesizer, error)),
	}
}

// RegisterSTT registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (speech.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranslate registers a translator factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (speech.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (speech.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateSTT instantiates a recognizer using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (speech.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslate instantiates a translator using the factory registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (speech.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAdapter builds the full speech adapter from the configured
// providers. Every stage is fronted by a circuit breaker; stages with a
// fallback entry fail over to it when the primary trips.
func (r *Registry) CreateAdapter(p ProvidersConfig) (speech.Adapter, error) {
	rec, err := r.CreateSTT(p.STT)
	if err != nil {
		return speech.Adapter{}, err
	}
	recG := resilience.NewRecognizerGroup(p.STT.Name, rec, resilience.GroupConfig{})
	if p.STT.Fallback != nil {
		fb, err := r.CreateSTT(*p.STT.Fallback)
		if err != nil {
			return speech.Adapter{}, fmt.Errorf("stt fallback: %w", err)
		}
		recG.Add(p.STT.Fallback.Name, fb)
	}

	tr, err := r.CreateTranslate(p.Translate)
	if err != nil {
		return speech.Adapter{}, err
	}
	trG := resilience.NewTranslatorGroup(p.Translate.Name, tr, resilience.GroupConfig{})
	if p.Translate.Fallback != nil {
		fb, err := r.CreateTranslate(*p.Translate.Fallback)
		if err != nil {
			return speech.Adapter{}, fmt.Errorf("translate fallback: %w", err)
		}
		trG.Add(p.Translate.Fallback.Name, fb)
	}

	synth, err := r.CreateTTS(p.TTS)
	if err != nil {
		return speech.Adapter{}, err
	}
	synthG := resilience.NewSynthesizerGroup(p.TTS.Name, synth, resilience.GroupConfig{})
	if p.TTS.Fallback != nil {
		fb, err := r.CreateTTS(*p.TTS.Fallback)
		if err != nil {
			return speech.Adapter{}, fmt.Errorf("tts fallback: %w", err)
		}
		synthG.Add(p.TTS.Fallback.Name, fb)
	}

	return speech.Adapter{Recognizer: recG, Translator: trG, Synthesizer: synthG}, nil
}
