package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxbridge/voxbridge/pkg/speech"
)

// RecognizerGroup fronts one or more speech.Recognizer providers with
// failover. Only StartStream is guarded; an established session belongs to
// whichever provider opened it.
type RecognizerGroup struct {
	g *Group[speech.Recognizer]
}

// NewRecognizerGroup creates a group with primary as the first recognizer.
func NewRecognizerGroup(name string, primary speech.Recognizer, cfg GroupConfig) *RecognizerGroup {
	return &RecognizerGroup{g: NewGroup(name, primary, cfg)}
}

// Add appends a fallback recognizer.
func (rg *RecognizerGroup) Add(name string, r speech.Recognizer) { rg.g.Add(name, r) }

// StartStream opens a session on the first healthy recognizer.
func (rg *RecognizerGroup) StartStream(ctx context.Context, cfg speech.StreamConfig) (speech.SessionHandle, error) {
	h, err := Do(rg.g, func(r speech.Recognizer) (speech.SessionHandle, error) {
		return r.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, classify(err, speech.ErrRecognitionUnavailable)
	}
	return h, nil
}

// TranslatorGroup fronts one or more speech.Translator providers with
// failover. It implements speech.ContextTranslator; members that do not are
// called without the context slice.
type TranslatorGroup struct {
	g *Group[speech.Translator]
}

// NewTranslatorGroup creates a group with primary as the first translator.
func NewTranslatorGroup(name string, primary speech.Translator, cfg GroupConfig) *TranslatorGroup {
	return &TranslatorGroup{g: NewGroup(name, primary, cfg)}
}

// Add appends a fallback translator.
func (tg *TranslatorGroup) Add(name string, t speech.Translator) { tg.g.Add(name, t) }

// Translate translates text via the first healthy translator.
func (tg *TranslatorGroup) Translate(ctx context.Context, text, source, target string) (string, error) {
	out, err := Do(tg.g, func(t speech.Translator) (string, error) {
		return t.Translate(ctx, text, source, target)
	})
	if err != nil {
		return "", classify(err, speech.ErrTranslationUnavailable)
	}
	return out, nil
}

// TranslateWithContext is like Translate but forwards the speaker's recent
// utterances to members that support them.
func (tg *TranslatorGroup) TranslateWithContext(ctx context.Context, text, source, target string, recent []string) (string, error) {
	out, err := Do(tg.g, func(t speech.Translator) (string, error) {
		if ct, ok := t.(speech.ContextTranslator); ok {
			return ct.TranslateWithContext(ctx, text, source, target, recent)
		}
		return t.Translate(ctx, text, source, target)
	})
	if err != nil {
		return "", classify(err, speech.ErrTranslationUnavailable)
	}
	return out, nil
}

// SynthesizerGroup fronts one or more speech.Synthesizer providers with
// failover.
type SynthesizerGroup struct {
	g *Group[speech.Synthesizer]
}

// NewSynthesizerGroup creates a group with primary as the first synthesizer.
func NewSynthesizerGroup(name string, primary speech.Synthesizer, cfg GroupConfig) *SynthesizerGroup {
	return &SynthesizerGroup{g: NewGroup(name, primary, cfg)}
}

// Add appends a fallback synthesizer.
func (sg *SynthesizerGroup) Add(name string, s speech.Synthesizer) { sg.g.Add(name, s) }

// Synthesize renders text via the first healthy synthesizer.
func (sg *SynthesizerGroup) Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error) {
	pcm, err := Do(sg.g, func(s speech.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, language, voiceID)
	})
	if err != nil {
		return nil, classify(err, speech.ErrSynthesisUnavailable)
	}
	return pcm, nil
}

// classify guarantees err matches the stage sentinel so the pipeline's
// degraded paths trigger even when the failure was an open breaker rather
// than a provider error.
func classify(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

var (
	_ speech.Recognizer        = (*RecognizerGroup)(nil)
	_ speech.Translator        = (*TranslatorGroup)(nil)
	_ speech.ContextTranslator = (*TranslatorGroup)(nil)
	_ speech.Synthesizer       = (*SynthesizerGroup)(nil)
)
