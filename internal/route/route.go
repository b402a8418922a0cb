// Package route fans finalized utterances out to listeners: one translation
// per target language, one synthesis per (text, language, voice) through
// the cache, and strictly ordered publication per speaker. One Router runs
// per call session.
package route

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/segment"
	"github.com/voxbridge/voxbridge/internal/ttscache"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

// Listener is a connected, non-speaker participant as the router sees it.
type Listener struct {
	ID      string
	Lang    string
	VoiceID string
}

// Roster supplies the current set of connected participants. The session
// orchestrator implements it.
type Roster interface {
	// Listeners returns connected participants other than the speaker.
	Listeners(speaker string) []Listener
}

// InterimCaption is a best-effort partial transcript forwarded to listeners.
// Captions are always in the speaker's source language. Empty text cancels
// the previous caption.
type InterimCaption struct {
	Speaker  string
	Text     string
	Language string
}

// PerListener is one listener's share of a finalized utterance.
type PerListener struct {
	Listener   string
	TargetLang string
	Text       string

	// Audio is 16 kHz mono s16le PCM. Nil for passthrough listeners and
	// when synthesis was unavailable.
	Audio []byte

	// Degraded marks that translation failed and Text is the original.
	Degraded bool
}

// FinalTranslation is the fully routed result of one utterance.
type FinalTranslation struct {
	Speaker    string
	Seq        uint64
	SourceLang string
	SourceText string
	StartMS    int64
	EndMS      int64

	PerListener []PerListener
}

// Sink receives router output. The session orchestrator implements it.
// PublishFinal calls for one speaker arrive strictly in Seq order.
type Sink interface {
	PublishInterim(InterimCaption)
	PublishFinal(FinalTranslation)
}

// Config holds the router tunables. Zero values select the defaults.
type Config struct {
	// DedupTTL bounds how long delivered (speaker, seq) pairs are
	// remembered to suppress duplicate deliveries.
	DedupTTL time.Duration

	// ContextDepth is how many recent utterances per speaker are kept as
	// optional translation context.
	ContextDepth int

	// TranslateTimeout and SynthesizeTimeout bound each adapter call.
	TranslateTimeout  time.Duration
	SynthesizeTimeout time.Duration

	// Workers caps concurrent adapter calls per utterance.
	Workers int
}

const (
	defaultDedupTTL          = 30 * time.Second
	defaultContextDepth      = 10
	defaultTranslateTimeout  = 3 * time.Second
	defaultSynthesizeTimeout = 5 * time.Second
	defaultWorkers           = 4
)

func (c *Config) normalize() {
	if c.DedupTTL <= 0 {
		c.DedupTTL = defaultDedupTTL
	}
	if c.ContextDepth <= 0 {
		c.ContextDepth = defaultContextDepth
	}
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = defaultTranslateTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = defaultSynthesizeTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
}

type dedupKey struct {
	speaker string
	seq     uint64
}

// Router routes one session's utterances. HandleFinal must be called
// serially per speaker (each segmenter forwarder is a single goroutine);
// different speakers may call concurrently.
type Router struct {
	cfg        Config
	translator speech.Translator
	cache      *ttscache.Cache
	roster     Roster
	sink       Sink
	log        *slog.Logger

	mu     sync.Mutex
	seq    map[string]uint64
	seen   map[dedupKey]time.Time
	recent map[string][]string
	langOf map[string]string
	now    func() time.Time
}

// New creates a Router for one session.
func New(cfg Config, translator speech.Translator, cache *ttscache.Cache, roster Roster, sink Sink, log *slog.Logger) *Router {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		translator: translator,
		cache:      cache,
		roster:     roster,
		sink:       sink,
		log:        log,
		seq:        make(map[string]uint64),
		seen:       make(map[dedupKey]time.Time),
		recent:     make(map[string][]string),
		langOf:     make(map[string]string),
		now:        time.Now,
	}
}

// SetSpeakerLanguage records a speaker's source language for interim
// captions. Called by the orchestrator at admission.
func (r *Router) SetSpeakerLanguage(speaker, lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langOf[speaker] = lang
}

// HandleInterim forwards a partial transcript as a caption in the source
// language.
func (r *Router) HandleInterim(in segment.Interim) {
	r.mu.Lock()
	lang := r.langOf[in.Speaker]
	r.mu.Unlock()
	r.sink.PublishInterim(InterimCaption{
		Speaker:  in.Speaker,
		Text:     in.Text,
		Language: lang,
	})
}

// HandleFinal routes one finalized utterance: assigns its sequence number,
// translates once per target language, synthesizes per listener through the
// cache, and publishes a single FinalTranslation. Pipeline failures degrade
// the affected records; they never fail the utterance as a whole.
func (r *Router) HandleFinal(ctx context.Context, f segment.FinalUtterance) {
	r.mu.Lock()
	r.seq[f.Speaker]++
	seq := r.seq[f.Speaker]
	recent := append([]string(nil), r.recent[f.Speaker]...)
	r.mu.Unlock()

	listeners := r.roster.Listeners(f.Speaker)

	// One translation per target language, shared by all its listeners.
	targets := make(map[string]struct{})
	for _, l := range listeners {
		if l.Lang != f.SourceLang {
			targets[l.Lang] = struct{}{}
		}
	}

	type translated struct {
		text     string
		degraded bool
	}
	results := make(map[string]translated, len(targets))
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for target := range targets {
		g.Go(func() error {
			text, err := r.translate(gctx, f.Text, f.SourceLang, target, recent)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				r.log.Warn("translation failed",
					"speaker", f.Speaker, "target", target, "err", err)
				results[target] = translated{text: f.Text, degraded: true}
				return nil
			}
			results[target] = translated{text: text}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]PerListener, len(listeners))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, l := range listeners {
		if l.Lang == f.SourceLang {
			records[i] = PerListener{Listener: l.ID, TargetLang: l.Lang, Text: f.Text}
			continue
		}
		tr := results[l.Lang]
		records[i] = PerListener{
			Listener:   l.ID,
			TargetLang: l.Lang,
			Text:       tr.text,
			Degraded:   tr.degraded,
		}
		if tr.degraded {
			// No synthesis of untranslated text.
			continue
		}
		g.Go(func() error {
			voice := l.VoiceID
			if voice == "" {
				voice = speech.DefaultVoice(l.Lang)
			}
			sctx, cancel := context.WithTimeout(gctx, r.cfg.SynthesizeTimeout)
			defer cancel()
			audio, err := r.cache.Synthesize(sctx, tr.text, l.Lang, voice)
			if err != nil {
				// Listener falls back to text only.
				r.log.Warn("synthesis failed",
					"speaker", f.Speaker, "target", l.Lang, "err", err)
				return nil
			}
			records[i].Audio = audio
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].Listener < records[j].Listener })

	ft := FinalTranslation{
		Speaker:     f.Speaker,
		Seq:         seq,
		SourceLang:  f.SourceLang,
		SourceText:  f.Text,
		StartMS:     f.StartMS,
		EndMS:       f.EndMS,
		PerListener: records,
	}
	if !r.markDelivered(f.Speaker, seq) {
		return
	}
	r.sink.PublishFinal(ft)
	r.remember(f.Speaker, f.Text)
}

// translate runs one translation with the configured timeout, passing the
// speaker's recent utterances when the provider accepts context.
func (r *Router) translate(ctx context.Context, text, source, target string, recent []string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranslateTimeout)
	defer cancel()

	if ct, ok := r.translator.(speech.ContextTranslator); ok && len(recent) > 0 {
		out, err := ct.TranslateWithContext(tctx, text, source, target, recent)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, speech.ErrTranslationUnavailable) {
			return "", err
		}
		// Fall through to the plain path once before giving up.
	}
	return r.translator.Translate(tctx, text, source, target)
}

// markDelivered records the delivery and reports whether it is the first
// for this (speaker, seq) within the TTL. Duplicates from redelivery are
// suppressed.
func (r *Router) markDelivered(speaker string, seq uint64) bool {
	key := dedupKey{speaker: speaker, seq: seq}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.seen[key]; ok && now.Sub(at) < r.cfg.DedupTTL {
		return false
	}
	for k, at := range r.seen {
		if now.Sub(at) >= r.cfg.DedupTTL {
			delete(r.seen, k)
		}
	}
	r.seen[key] = now
	return true
}

func (r *Router) remember(speaker, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recent := append(r.recent[speaker], text)
	if len(recent) > r.cfg.ContextDepth {
		recent = recent[len(recent)-r.cfg.ContextDepth:]
	}
	r.recent[speaker] = recent
}
