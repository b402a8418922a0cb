// Package segment turns a speaker's continuous PCM frame stream into
// discrete utterances. One Segmenter runs per (session, speaker): it
// classifies frames with a sliding-window voice gate, feeds voiced audio
// into a streaming recognition session, forwards interim transcripts as
// they arrive, and cuts the utterance when trailing silence crosses the
// threshold or the utterance hits its maximum length.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/voxbridge/voxbridge/pkg/pcm"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

// Interim is a low-latency partial transcript for an in-progress utterance.
// Each interim supersedes the previous one from the same speaker.
type Interim struct {
	Speaker string
	Text    string
}

// FinalUtterance is one finalized speech segment.
type FinalUtterance struct {
	Speaker    string
	Text       string
	SourceLang string

	// StartMS and EndMS bound the speech span in milliseconds of stream
	// time since the segmenter started.
	StartMS int64
	EndMS   int64
}

// Config holds the segmentation tunables. Zero values select the defaults.
type Config struct {
	// RMSThreshold is the minimum window RMS (int16 scale) for voice.
	RMSThreshold float64

	// SilenceThresholdMS is the trailing silence that ends an utterance.
	SilenceThresholdMS int

	// MaxUtteranceMS caps utterance length; reaching it forces
	// finalization with the next utterance starting immediately.
	MaxUtteranceMS int

	// MinSpeechMS is the voiced audio required before an utterance opens.
	MinSpeechMS int

	// QueueSize bounds the inbound frame queue. On overflow the newest
	// frame is dropped and counted.
	QueueSize int
}

const (
	defaultRMSThreshold       = 300
	defaultSilenceThresholdMS = 400
	defaultMaxUtteranceMS     = 5000
	defaultMinSpeechMS        = 100
	defaultQueueSize          = 32
)

func (c *Config) normalize() {
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = defaultRMSThreshold
	}
	if c.SilenceThresholdMS <= 0 {
		c.SilenceThresholdMS = defaultSilenceThresholdMS
	}
	if c.MaxUtteranceMS <= 0 {
		c.MaxUtteranceMS = defaultMaxUtteranceMS
	}
	if c.MinSpeechMS <= 0 {
		c.MinSpeechMS = defaultMinSpeechMS
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
}

type state int

const (
	stateIdle state = iota
	stateSpeaking
	stateTrailingSilence
)

// Segmenter cuts one speaker's frame stream into utterances. ProcessFrame
// and the lifecycle methods must be called from a single goroutine (Run
// does this); Offer, SetMuted, and Dropped are safe from any goroutine.
type Segmenter struct {
	cfg      Config
	rec      speech.Recognizer
	speaker  string
	language string
	log      *slog.Logger

	interims chan Interim
	finals   chan FinalUtterance
	errs     chan error

	queue   chan []byte
	muteCh  chan struct{}
	dropped atomic.Uint64
	muted   atomic.Bool

	vad   *Classifier
	state state

	// pending buffers voiced frames seen in idle until MinSpeechMS is
	// reached and the recognition stream opens.
	pending        [][]byte
	pendingMS      int
	streamOffsetMS int64
	utteranceStart int64
	utteranceMS    int
	silenceMS      int

	sess      speech.SessionHandle
	forwardWG sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Segmenter for one speaker. language is the speaker's spoken
// language, used for recognition and carried on every FinalUtterance.
func New(cfg Config, rec speech.Recognizer, speaker, language string, log *slog.Logger) *Segmenter {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		cfg:      cfg,
		rec:      rec,
		speaker:  speaker,
		language: language,
		log:      log.With("speaker", speaker),
		interims: make(chan Interim, 16),
		finals:   make(chan FinalUtterance, 16),
		errs:     make(chan error, 4),
		queue:    make(chan []byte, cfg.QueueSize),
		muteCh:   make(chan struct{}, 1),
		vad:      NewClassifier(cfg.RMSThreshold),
	}
}

// Interims returns the interim transcript stream. Closed when Run returns.
func (s *Segmenter) Interims() <-chan Interim { return s.interims }

// Finals returns the finalized utterance stream. Closed when Run returns.
func (s *Segmenter) Finals() <-chan FinalUtterance { return s.finals }

// Errors returns pipeline failures the speaker should hear about, such as
// a recognition stream that failed to open. Closed when Run returns.
func (s *Segmenter) Errors() <-chan error { return s.errs }

// Offer enqueues a frame without blocking. Returns false when the queue is
// full; the frame is dropped and counted.
func (s *Segmenter) Offer(frame []byte) bool {
	select {
	case s.queue <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of frames dropped on queue overflow.
func (s *Segmenter) Dropped() uint64 {
	return s.dropped.Load()
}

// SetMuted toggles mute. Muting discards the active utterance right away:
// Run picks up the signal even when the speaker sends no further frames.
func (s *Segmenter) SetMuted(muted bool) {
	s.muted.Store(muted)
	if muted {
		select {
		case s.muteCh <- struct{}{}:
		default:
		}
	}
}

// Close stops frame intake. Run drains the queue and returns.
func (s *Segmenter) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
}

// Run consumes the frame queue until Close or context cancellation. Any
// in-progress utterance at exit is discarded, matching disconnect
// semantics.
func (s *Segmenter) Run(ctx context.Context) {
	defer close(s.interims)
	defer close(s.finals)
	defer close(s.errs)
	defer s.abortUtterance()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.muteCh:
			s.dropActive()
		case frame, ok := <-s.queue:
			if !ok {
				return
			}
			s.ProcessFrame(ctx, frame)
		}
	}
}

// ProcessFrame runs one frame through the state machine. Exposed for tests;
// production traffic goes through Offer and Run.
func (s *Segmenter) ProcessFrame(ctx context.Context, frame []byte) {
	frameMS := pcm.DurationMillis(len(frame))
	if frameMS == 0 {
		return
	}
	s.streamOffsetMS += int64(frameMS)

	if s.muted.Load() {
		s.dropActive()
		return
	}

	voice := s.vad.Classify(pcm.Samples(frame))

	switch s.state {
	case stateIdle:
		s.handleIdle(ctx, frame, frameMS, voice)
	case stateSpeaking:
		s.sendAudio(frame)
		s.utteranceMS += frameMS
		if !voice {
			s.state = stateTrailingSilence
			s.silenceMS = frameMS
		}
		if s.utteranceMS >= s.cfg.MaxUtteranceMS {
			s.finalize(ctx)
		}
	case stateTrailingSilence:
		s.sendAudio(frame)
		s.utteranceMS += frameMS
		if voice {
			s.state = stateSpeaking
			s.silenceMS = 0
			break
		}
		s.silenceMS += frameMS
		if s.silenceMS >= s.cfg.SilenceThresholdMS || s.utteranceMS >= s.cfg.MaxUtteranceMS {
			s.finalize(ctx)
		}
	}
}

func (s *Segmenter) handleIdle(ctx context.Context, frame []byte, frameMS int, voice bool) {
	if !voice {
		s.pending = s.pending[:0]
		s.pendingMS = 0
		return
	}
	s.pending = append(s.pending, frame)
	s.pendingMS += frameMS
	if s.pendingMS < s.cfg.MinSpeechMS {
		return
	}

	sess, err := s.rec.StartStream(ctx, speech.StreamConfig{
		SampleRate: pcm.SampleRate,
		Language:   s.language,
	})
	if err != nil {
		// Recognition outage drops the utterance, never the session. The
		// speaker is told; listeners see nothing.
		s.log.Warn("recognition stream failed to open", "err", err)
		s.resetIdle()
		s.emitError(fmt.Errorf("recognition unavailable, utterance dropped: %w", err))
		return
	}
	s.sess = sess
	s.forwardWG.Add(1)
	go s.forwardPartials(sess)

	s.state = stateSpeaking
	s.utteranceStart = s.streamOffsetMS - int64(s.pendingMS)
	s.utteranceMS = s.pendingMS
	s.silenceMS = 0
	for _, f := range s.pending {
		s.sendAudio(f)
	}
	s.pending = s.pending[:0]
	s.pendingMS = 0
}

// forwardPartials relays recognizer partials as Interim events until the
// session's partial channel closes.
func (s *Segmenter) forwardPartials(sess speech.SessionHandle) {
	defer s.forwardWG.Done()
	for tr := range sess.Partials() {
		if strings.TrimSpace(tr.Text) == "" {
			continue
		}
		s.emitInterim(tr.Text)
	}
}

func (s *Segmenter) sendAudio(frame []byte) {
	if s.sess == nil {
		return
	}
	if err := s.sess.SendAudio(frame); err != nil {
		s.log.Warn("send audio to recognizer", "err", err)
	}
}

// finalize closes the recognition stream, collects its final transcript,
// and emits one FinalUtterance. Blank transcripts are dropped. The state
// machine returns to idle immediately so the next utterance starts without
// frame loss.
func (s *Segmenter) finalize(ctx context.Context) {
	sess := s.sess
	start, end := s.utteranceStart, s.streamOffsetMS
	s.resetIdle()
	if sess == nil {
		return
	}

	if err := sess.Close(); err != nil {
		s.log.Warn("close recognition stream", "err", err)
	}
	s.forwardWG.Wait()

	var parts []string
	for tr := range sess.Finals() {
		if t := strings.TrimSpace(tr.Text); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return
	}

	final := FinalUtterance{
		Speaker:    s.speaker,
		Text:       text,
		SourceLang: s.language,
		StartMS:    start,
		EndMS:      end,
	}
	select {
	case s.finals <- final:
	case <-ctx.Done():
	}
}

// dropActive discards the in-progress utterance, if any, and returns the
// state machine to idle. Used for mute.
func (s *Segmenter) dropActive() {
	if s.state == stateIdle && len(s.pending) == 0 {
		return
	}
	s.abortUtterance()
	s.resetIdle()
	s.vad.Reset()
	// Cancel whatever interim the listeners last saw.
	s.emitInterim("")
}

// abortUtterance discards the active recognition stream without emitting a
// final. Used for mute and disconnect.
func (s *Segmenter) abortUtterance() {
	sess := s.sess
	s.sess = nil
	if sess == nil {
		return
	}
	_ = sess.Close()
	s.forwardWG.Wait()
	for range sess.Finals() {
		// Discard.
	}
}

func (s *Segmenter) resetIdle() {
	s.state = stateIdle
	s.sess = nil
	s.pending = s.pending[:0]
	s.pendingMS = 0
	s.utteranceMS = 0
	s.silenceMS = 0
}

func (s *Segmenter) emitError(err error) {
	select {
	case s.errs <- err:
	default:
		// The speaker already has unread errors queued; one is enough.
	}
}

func (s *Segmenter) emitInterim(text string) {
	ev := Interim{Speaker: s.speaker, Text: text}
	select {
	case s.interims <- ev:
	default:
		// Interims are best effort; a stale one is superseded anyway.
	}
}

// String reports the current state for logs.
func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSpeaking:
		return "speaking"
	case stateTrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
