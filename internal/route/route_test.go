package route_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/voxbridge/voxbridge/internal/route"
	"github.com/voxbridge/voxbridge/internal/segment"
	"github.com/voxbridge/voxbridge/internal/ttscache"
	"github.com/voxbridge/voxbridge/pkg/speech"
	"github.com/voxbridge/voxbridge/pkg/speech/mock"
)

type fakeRoster struct {
	listeners []route.Listener
}

func (f *fakeRoster) Listeners(speaker string) []route.Listener {
	var out []route.Listener
	for _, l := range f.listeners {
		if l.ID != speaker {
			out = append(out, l)
		}
	}
	return out
}

type recordSink struct {
	mu       sync.Mutex
	interims []route.InterimCaption
	finals   []route.FinalTranslation
}

func (s *recordSink) PublishInterim(c route.InterimCaption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interims = append(s.interims, c)
}

func (s *recordSink) PublishFinal(f route.FinalTranslation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, f)
}

func (s *recordSink) Finals() []route.FinalTranslation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]route.FinalTranslation(nil), s.finals...)
}

func newRouter(roster *fakeRoster) (*route.Router, *recordSink, *mock.Translator, *mock.Synthesizer) {
	tr := &mock.Translator{}
	synth := &mock.Synthesizer{}
	sink := &recordSink{}
	r := route.New(route.Config{}, tr, ttscache.New(synth, 8), roster, sink, nil)
	return r, sink, tr, synth
}

func utterance(speaker, text, lang string) segment.FinalUtterance {
	return segment.FinalUtterance{
		Speaker:    speaker,
		Text:       text,
		SourceLang: lang,
		StartMS:    0,
		EndMS:      800,
	}
}

func TestPassthroughSameLanguage(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "he"},
	}}
	r, sink, tr, synth := newRouter(roster)

	r.HandleFinal(t.Context(), utterance("alice", "שלום", "he"))

	finals := sink.Finals()
	if len(finals) != 1 {
		t.Fatalf("finals: want 1, got %d", len(finals))
	}
	f := finals[0]
	if len(f.PerListener) != 1 {
		t.Fatalf("records: want 1, got %d", len(f.PerListener))
	}
	rec := f.PerListener[0]
	if rec.Listener != "bob" || rec.Text != "שלום" {
		t.Errorf("passthrough record: %+v", rec)
	}
	if rec.Audio != nil {
		t.Error("passthrough must not carry audio")
	}
	if rec.Degraded {
		t.Error("passthrough must not be degraded")
	}
	if tr.Calls() != 0 || synth.Calls() != 0 {
		t.Errorf("adapter calls: translate=%d synth=%d, want 0/0", tr.Calls(), synth.Calls())
	}
}

func TestTrilingualFanOutSharesWork(t *testing.T) {
	t.Parallel()

	// Speaker he; two en listeners share a translation and a synthesis,
	// the ru listener gets her own.
	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en"},
		{ID: "carol", Lang: "en"},
		{ID: "dmitri", Lang: "ru"},
	}}
	r, sink, tr, synth := newRouter(roster)

	r.HandleFinal(t.Context(), utterance("alice", "שלום", "he"))

	finals := sink.Finals()
	if len(finals) != 1 {
		t.Fatalf("finals: want 1, got %d", len(finals))
	}
	f := finals[0]
	if len(f.PerListener) != 3 {
		t.Fatalf("records: want 3, got %d", len(f.PerListener))
	}

	byListener := map[string]route.PerListener{}
	for _, rec := range f.PerListener {
		byListener[rec.Listener] = rec
	}
	bob, carol, dmitri := byListener["bob"], byListener["carol"], byListener["dmitri"]

	if bob.Text != "[en] שלום" || dmitri.Text != "[ru] שלום" {
		t.Errorf("translations: bob=%q dmitri=%q", bob.Text, dmitri.Text)
	}
	// Same target language yields byte-equal text and shared audio.
	if bob.Text != carol.Text {
		t.Errorf("en listeners diverged: %q vs %q", bob.Text, carol.Text)
	}
	if string(bob.Audio) != string(carol.Audio) {
		t.Error("en listeners should share one synthesis")
	}
	if len(bob.Audio) == 0 || len(dmitri.Audio) == 0 {
		t.Error("expected audio for translated listeners")
	}

	if got := tr.Calls(); got != 2 {
		t.Errorf("translate calls: want 2 (en, ru), got %d", got)
	}
	if got := synth.Calls(); got != 2 {
		t.Errorf("synthesize calls: want 2 (en, ru), got %d", got)
	}
}

func TestListenerVoicePreference(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en", VoiceID: "shimmer"},
		{ID: "carol", Lang: "en"},
	}}
	r, _, _, synth := newRouter(roster)

	r.HandleFinal(t.Context(), utterance("alice", "שלום", "he"))

	// Distinct voices mean distinct cache keys and two syntheses.
	if got := synth.Calls(); got != 2 {
		t.Fatalf("synthesize calls: want 2, got %d", got)
	}
	voices := map[string]bool{}
	for _, c := range synth.SynthesizeCalls {
		voices[c.VoiceID] = true
	}
	if !voices["shimmer"] || !voices[speech.DefaultVoice("en")] {
		t.Errorf("voices used: %v", voices)
	}
}

func TestTranslationOutageDegrades(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en"},
	}}
	r, sink, tr, synth := newRouter(roster)
	tr.Err = fmt.Errorf("outage: %w", speech.ErrTranslationUnavailable)

	r.HandleFinal(t.Context(), utterance("alice", "שלום", "he"))

	finals := sink.Finals()
	if len(finals) != 1 {
		t.Fatalf("finals: want 1, got %d", len(finals))
	}
	rec := finals[0].PerListener[0]
	if !rec.Degraded {
		t.Error("expected degraded record")
	}
	if rec.Text != "שלום" {
		t.Errorf("degraded record should carry original text, got %q", rec.Text)
	}
	if rec.Audio != nil {
		t.Error("no synthesis for untranslated text")
	}
	if synth.Calls() != 0 {
		t.Errorf("synthesize calls: want 0, got %d", synth.Calls())
	}
}

func TestSynthesisOutageFallsBackToText(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en"},
	}}
	r, sink, _, synth := newRouter(roster)
	synth.Err = fmt.Errorf("outage: %w", speech.ErrSynthesisUnavailable)

	r.HandleFinal(t.Context(), utterance("alice", "שלום", "he"))

	finals := sink.Finals()
	if len(finals) != 1 {
		t.Fatalf("finals: want 1, got %d", len(finals))
	}
	rec := finals[0].PerListener[0]
	if rec.Text != "[en] שלום" {
		t.Errorf("text should survive a TTS outage, got %q", rec.Text)
	}
	if rec.Audio != nil {
		t.Error("audio must be omitted on TTS outage")
	}
	if rec.Degraded {
		t.Error("TTS outage is not a degraded translation")
	}
}

func TestSequenceNumbersAreMonotonicPerSpeaker(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "he"},
	}}
	r, sink, _, _ := newRouter(roster)

	for i := range 3 {
		r.HandleFinal(t.Context(), utterance("alice", fmt.Sprintf("u%d", i), "he"))
	}
	r.HandleFinal(t.Context(), utterance("bob", "reply", "he"))

	finals := sink.Finals()
	if len(finals) != 4 {
		t.Fatalf("finals: want 4, got %d", len(finals))
	}
	for i := range 3 {
		if finals[i].Speaker != "alice" || finals[i].Seq != uint64(i+1) {
			t.Errorf("final %d: speaker=%s seq=%d", i, finals[i].Speaker, finals[i].Seq)
		}
	}
	if finals[3].Speaker != "bob" || finals[3].Seq != 1 {
		t.Errorf("bob's first utterance: seq=%d", finals[3].Seq)
	}
}

func TestInterimCaptionUsesSourceLanguage(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en"},
	}}
	r, sink, tr, _ := newRouter(roster)
	r.SetSpeakerLanguage("alice", "he")

	r.HandleInterim(segment.Interim{Speaker: "alice", Text: "שלו"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.interims) != 1 {
		t.Fatalf("interims: want 1, got %d", len(sink.interims))
	}
	c := sink.interims[0]
	if c.Language != "he" || c.Text != "שלו" {
		t.Errorf("caption: %+v", c)
	}
	// Interims never touch the translator.
	if tr.Calls() != 0 {
		t.Errorf("translate calls: want 0, got %d", tr.Calls())
	}
}

func TestContextTranslatorReceivesRecentUtterances(t *testing.T) {
	t.Parallel()

	roster := &fakeRoster{listeners: []route.Listener{
		{ID: "alice", Lang: "he"},
		{ID: "bob", Lang: "en"},
	}}
	tr := &contextTranslator{}
	synth := &mock.Synthesizer{}
	sink := &recordSink{}
	r := route.New(route.Config{}, tr, ttscache.New(synth, 8), roster, sink, nil)

	r.HandleFinal(t.Context(), utterance("alice", "first", "he"))
	r.HandleFinal(t.Context(), utterance("alice", "second", "he"))

	if len(tr.contexts) != 1 {
		t.Fatalf("context calls: want 1 (first utterance has no history), got %d", len(tr.contexts))
	}
	if len(tr.contexts[0]) != 1 || tr.contexts[0][0] != "first" {
		t.Errorf("context: %v", tr.contexts[0])
	}
}

// contextTranslator implements speech.ContextTranslator and records the
// context it receives.
type contextTranslator struct {
	mock.Translator
	mu       sync.Mutex
	contexts [][]string
}

func (c *contextTranslator) TranslateWithContext(_ context.Context, text, source, target string, recent []string) (string, error) {
	c.mu.Lock()
	c.contexts = append(c.contexts, append([]string(nil), recent...))
	c.mu.Unlock()
	return "[" + target + "+ctx] " + text, nil
}
