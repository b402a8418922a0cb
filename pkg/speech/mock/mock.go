// Package mock provides deterministic test doubles for the speech package
// interfaces.
//
// The Translator prefixes text with the target language tag and the
// Synthesizer derives its PCM bytes from the input text, so tests can assert
// exact pipeline output without a live provider. Every call is recorded for
// inspection; errors can be injected per operation.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/speech"
)

// StartStreamCall records one invocation of Recognizer.StartStream.
type StartStreamCall struct {
	Cfg speech.StreamConfig
}

// Recognizer is a mock speech.Recognizer. By default every StartStream
// returns a fresh Session that echoes whatever audio it receives as a
// single final transcript on Close (see Session.Transcript).
type Recognizer struct {
	mu sync.Mutex

	// Session, when non-nil, is returned by every StartStream call.
	Session speech.SessionHandle

	// NewSession, when non-nil, is invoked per StartStream to mint the
	// returned handle. Takes precedence over Session.
	NewSession func(cfg speech.StreamConfig) speech.SessionHandle

	// StartStreamErr, if non-nil, is returned from every StartStream call.
	StartStreamErr error

	// StartStreamCalls records every call in order.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns the configured session.
func (r *Recognizer) StartStream(_ context.Context, cfg speech.StreamConfig) (speech.SessionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartStreamCalls = append(r.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if r.StartStreamErr != nil {
		return nil, r.StartStreamErr
	}
	if r.NewSession != nil {
		return r.NewSession(cfg), nil
	}
	if r.Session != nil {
		return r.Session, nil
	}
	return NewSession(""), nil
}

// Calls returns the number of recorded StartStream calls. Thread-safe.
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.StartStreamCalls)
}

var _ speech.Recognizer = (*Recognizer)(nil)

// Session is a mock speech.SessionHandle. Tests either pre-script partials
// via EmitPartial or rely on the default behaviour: on Close the session
// emits Transcript (when non-empty) as one final and closes both channels.
type Session struct {
	mu sync.Mutex

	// Transcript is the final text emitted on Close. Empty means the
	// session closes silently (simulates an unrecognised utterance).
	Transcript string

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records the byte length of every audio chunk received.
	SendAudioCalls []int

	partials chan speech.Transcript
	finals   chan speech.Transcript
	closed   bool
}

// NewSession creates a Session that will emit transcript as its single
// final result when closed.
func NewSession(transcript string) *Session {
	return &Session{
		Transcript: transcript,
		partials:   make(chan speech.Transcript, 16),
		finals:     make(chan speech.Transcript, 16),
	}
}

// SendAudio records the chunk length.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock session: %w", speech.ErrRecognitionUnavailable)
	}
	s.SendAudioCalls = append(s.SendAudioCalls, len(chunk))
	return s.SendAudioErr
}

// EmitPartial pushes an interim transcript to the Partials channel.
// Panics if the session is already closed.
func (s *Session) EmitPartial(text string) {
	s.partials <- speech.Transcript{Text: text}
}

// Partials returns the interim transcript channel.
func (s *Session) Partials() <-chan speech.Transcript { return s.partials }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan speech.Transcript { return s.finals }

// Close emits the configured final transcript and closes both channels.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.Transcript != "" {
		s.finals <- speech.Transcript{Text: s.Transcript, IsFinal: true, Confidence: 1}
	}
	close(s.partials)
	close(s.finals)
	return nil
}

// AudioBytes returns the total number of audio bytes received. Thread-safe.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.SendAudioCalls {
		n += c
	}
	return n
}

var _ speech.SessionHandle = (*Session)(nil)

// TranslateCall records one invocation of Translator.Translate.
type TranslateCall struct {
	Text, Source, Target string
}

// Translator is a mock speech.Translator with a deterministic transform:
// "[target] text". Tests can override the transform or inject an error.
type Translator struct {
	mu sync.Mutex

	// Transform, when non-nil, replaces the default "[target] text" output.
	Transform func(text, source, target string) string

	// Err, if non-nil, is returned by every Translate call.
	Err error

	// TranslateCalls records every call in order.
	TranslateCalls []TranslateCall
}

// Translate records the call and applies the deterministic transform.
func (t *Translator) Translate(_ context.Context, text, source, target string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranslateCalls = append(t.TranslateCalls, TranslateCall{Text: text, Source: source, Target: target})
	if t.Err != nil {
		return "", t.Err
	}
	if t.Transform != nil {
		return t.Transform(text, source, target), nil
	}
	return "[" + target + "] " + text, nil
}

// Calls returns the number of recorded Translate calls. Thread-safe.
func (t *Translator) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranslateCalls)
}

var _ speech.Translator = (*Translator)(nil)

// SynthesizeCall records one invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	Text, Language, VoiceID string
}

// Synthesizer is a mock speech.Synthesizer producing deterministic PCM:
// the bytes of "pcm:<language>:<voice>:<text>". Tests can assert exact
// payloads and count provider calls to verify cache behaviour.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Delay, when non-nil, is waited on before returning. Lets tests hold
	// a synthesis in flight to exercise cache single-flight behaviour.
	Delay chan struct{}

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns deterministic pseudo-PCM.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Language: language, VoiceID: voiceID})
	err := s.Err
	delay := s.Delay
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, fmt.Errorf("mock synthesizer: %w", speech.ErrSynthesisUnavailable)
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("pcm:" + language + ":" + voiceID + ":" + text), nil
}

// Calls returns the number of recorded Synthesize calls. Thread-safe.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

// Adapter returns a speech.Adapter wired with fresh mocks of all three
// stages.
func Adapter() (speech.Adapter, *Recognizer, *Translator, *Synthesizer) {
	r := &Recognizer{}
	t := &Translator{}
	s := &Synthesizer{}
	return speech.Adapter{Recognizer: r, Translator: t, Synthesizer: s}, r, t, s
}
