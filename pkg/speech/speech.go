// Package speech defines the adapter interfaces over the external
// speech-recognition, translation, and synthesis services that power the
// VoxBridge translation pipeline.
//
// The three concerns are split into Recognizer, Translator, and Synthesizer
// so a deployment can mix providers (e.g. Deepgram for recognition, OpenAI
// for translation and synthesis). The Adapter struct bundles one of each for
// convenient injection into the router and segmenter.
//
// Failures are classified into three sentinel kinds
// (ErrRecognitionUnavailable, ErrTranslationUnavailable,
// ErrSynthesisUnavailable) which the pipeline
// recovers from at utterance granularity. Provider implementations must wrap
// their transport errors in the matching sentinel so callers can use
// errors.Is without knowing the provider.
//
// Implementations must be safe for concurrent use: a single call runs one
// recognition stream per speaker plus parallel translation and synthesis
// fan-out.
package speech

import (
	"context"
	"errors"
	"time"
)

// Failure kinds. The pipeline never inspects provider-specific errors; it
// only distinguishes these three.
var (
	// ErrRecognitionUnavailable marks a speech-to-text outage or timeout.
	// The current utterance is dropped; the session continues.
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")

	// ErrTranslationUnavailable marks a translation outage or timeout.
	// The router surfaces the original text with a degraded flag.
	ErrTranslationUnavailable = errors.New("translation unavailable")

	// ErrSynthesisUnavailable marks a text-to-speech outage or timeout.
	// The router emits a text-only final result.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
)

// Transcript is one recognition result, interim or final.
type Transcript struct {
	// Text is the recognised speech content.
	Text string

	// IsFinal indicates an authoritative result. Final transcripts are
	// monotonically ordered and terminate the utterance stream.
	IsFinal bool

	// Confidence is the provider confidence in [0,1]; zero when the
	// provider does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration
}

// StreamConfig describes the audio format and recognition language for a new
// recognition stream.
type StreamConfig struct {
	// SampleRate in Hz. VoxBridge always streams 16000.
	SampleRate int

	// Language is the recognition language code (e.g. "he", "en", "ru").
	Language string
}

// SessionHandle is an open streaming recognition session. The caller owns
// the handle and must call Close to flush pending audio and release
// provider resources. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16 kHz mono s16le PCM for
	// transcription. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim transcripts, at ≤150 ms cadence
	// where the provider supports it; providers without interim support
	// leave this channel silent. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and terminates the session. After Close
	// returns, Partials and Finals will be closed. Safe to call twice.
	Close() error
}

// Recognizer is the abstraction over any streaming speech-to-text backend.
type Recognizer interface {
	// StartStream opens a recognition session. A failed dial must be
	// reported as ErrRecognitionUnavailable (wrapped).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Translator is the abstraction over any text translation backend.
//
// Translate must be deterministic for identical (text, source, target)
// within a process run; the router and the TTS cache rely on this to share
// one translation and one synthesis across listeners of the same language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// ContextTranslator is an optional extension of Translator. When a provider
// implements it, the router passes the speaker's recent finalized utterances
// as context to improve translation quality. Purely best-effort: results
// must stay deterministic for identical inputs and context.
type ContextTranslator interface {
	TranslateWithContext(ctx context.Context, text, source, target string, recent []string) (string, error)
}

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text in the given language as 16 kHz mono s16le
	// PCM. voiceID selects a provider voice; empty means the language
	// default voice.
	Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error)
}

// Adapter bundles one provider per pipeline stage for injection.
type Adapter struct {
	Recognizer  Recognizer
	Translator  Translator
	Synthesizer Synthesizer
}

// DefaultVoice returns the stock voice identifier for a target language,
// used when a participant has no voice id of their own.
func DefaultVoice(language string) string {
	switch language {
	case "he":
		return "voice-he-default"
	case "ru":
		return "voice-ru-default"
	default:
		return "voice-en-default"
	}
}
