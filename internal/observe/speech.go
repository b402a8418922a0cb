package observe

import (
	"context"
	"time"

	"github.com/voxbridge/voxbridge/pkg/speech"
)

// InstrumentAdapter wraps every stage of a speech adapter so provider calls
// feed the stage latency histograms: stream finalization for STT, one record
// per translation and per synthesis. Failed calls are recorded too.
func InstrumentAdapter(a speech.Adapter, m *Metrics) speech.Adapter {
	return speech.Adapter{
		Recognizer:  &timedRecognizer{inner: a.Recognizer, m: m},
		Translator:  &timedTranslator{inner: a.Translator, m: m},
		Synthesizer: &timedSynthesizer{inner: a.Synthesizer, m: m},
	}
}

type timedRecognizer struct {
	inner speech.Recognizer
	m     *Metrics
}

func (r *timedRecognizer) StartStream(ctx context.Context, cfg speech.StreamConfig) (speech.SessionHandle, error) {
	h, err := r.inner.StartStream(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &timedSession{SessionHandle: h, m: r.m, ctx: ctx}, nil
}

// timedSession records how long stream finalization takes: Close blocks
// until the recognizer has flushed its last transcript, which is the STT
// latency a listener actually experiences.
type timedSession struct {
	speech.SessionHandle
	m   *Metrics
	ctx context.Context
}

func (s *timedSession) Close() error {
	start := time.Now()
	err := s.SessionHandle.Close()
	s.m.RecordStageLatency(s.ctx, "stt", time.Since(start))
	return err
}

type timedTranslator struct {
	inner speech.Translator
	m     *Metrics
}

func (t *timedTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	start := time.Now()
	out, err := t.inner.Translate(ctx, text, source, target)
	t.m.RecordStageLatency(ctx, "mt", time.Since(start))
	return out, err
}

func (t *timedTranslator) TranslateWithContext(ctx context.Context, text, source, target string, recent []string) (string, error) {
	ct, ok := t.inner.(speech.ContextTranslator)
	if !ok {
		return t.Translate(ctx, text, source, target)
	}
	start := time.Now()
	out, err := ct.TranslateWithContext(ctx, text, source, target, recent)
	t.m.RecordStageLatency(ctx, "mt", time.Since(start))
	return out, err
}

type timedSynthesizer struct {
	inner speech.Synthesizer
	m     *Metrics
}

func (s *timedSynthesizer) Synthesize(ctx context.Context, text, language, voiceID string) ([]byte, error) {
	start := time.Now()
	pcm, err := s.inner.Synthesize(ctx, text, language, voiceID)
	s.m.RecordStageLatency(ctx, "tts", time.Since(start))
	return pcm, err
}

var (
	_ speech.Recognizer        = (*timedRecognizer)(nil)
	_ speech.Translator        = (*timedTranslator)(nil)
	_ speech.ContextTranslator = (*timedTranslator)(nil)
	_ speech.Synthesizer       = (*timedSynthesizer)(nil)
)
