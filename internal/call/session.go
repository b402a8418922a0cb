package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/route"
	"github.com/voxbridge/voxbridge/internal/segment"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/ttscache"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

// Session is one live call. It owns the connected participants, implements
// the router's Roster and Sink, and drives the call to its terminal state
// when occupancy falls below two or an explicit end arrives.
type Session struct {
	id       string
	callLang string
	cfg      Config
	repo     store.Repository
	rec      speech.Recognizer
	router   *route.Router
	metrics  *observe.Metrics
	log      *slog.Logger
	onClose  func(id string)

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	parts map[string]*participant
	ended bool
}

var (
	_ route.Roster = (*Session)(nil)
	_ route.Sink   = (*Session)(nil)
)

func newSession(ctx context.Context, id, callLang string, cfg Config, repo store.Repository, adapter speech.Adapter, cache *ttscache.Cache, metrics *observe.Metrics, log *slog.Logger, onClose func(string)) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       id,
		callLang: callLang,
		cfg:      cfg,
		repo:     repo,
		rec:      adapter.Recognizer,
		metrics:  metrics,
		log:      log.With("session", id),
		onClose:  onClose,
		ctx:      ctx,
		cancel:   cancel,
		parts:    make(map[string]*participant),
	}
	s.router = route.New(cfg.Route, adapter.Translator, cache, s, s, s.log)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// admit attaches a connection as the given participant. A reconnect for a
// user who is already attached supersedes the old connection. Admission
// beyond the participant cap is rejected.
func (s *Session) admit(userID, language, voiceID string, conn Conn) (*participant, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		_ = conn.Close(CloseCallEnded)
		return nil, ErrSessionEnded
	}
	if old := s.parts[userID]; old != nil {
		delete(s.parts, userID)
		s.metrics.RecordDisconnect(s.ctx, string(CloseSuperseded))
		go old.shutdown(CloseSuperseded)
	} else if len(s.parts) >= s.cfg.MaxParticipants {
		s.mu.Unlock()
		s.metrics.RecordDisconnect(s.ctx, string(CloseUnauthorized))
		_ = conn.Close(CloseUnauthorized)
		return nil, ErrUnauthorized
	}

	pctx, pcancel := context.WithCancel(s.ctx)
	p := &participant{
		userID:   userID,
		language: language,
		voiceID:  voiceID,
		joinedAt: time.Now(),
		conn:     conn,
		queue:    newOutQueue(s.cfg.OutboundQueue),
		sess:     s,
		log:      s.log.With("user", userID),
		ctx:      pctx,
		cancel:   pcancel,
		done:     make(chan struct{}),
	}
	p.seg = segment.New(s.cfg.Segment, s.rec, userID, language, p.log)
	s.parts[userID] = p
	others := s.othersLocked(userID)
	s.mu.Unlock()

	if err := s.repo.MarkParticipantJoined(s.ctx, s.id, userID); err != nil {
		s.log.Warn("persist join", "user", userID, "err", err)
	}
	s.router.SetSpeakerLanguage(userID, language)
	s.metrics.ActiveParticipants.Add(s.ctx, 1)

	joined := mustJSON(participantJoinedEvent{
		Type:     "participant_joined",
		UserID:   userID,
		JoinedAt: p.joinedAt.UnixMilli(),
	})
	for _, o := range others {
		o.enqueue(&outboundItem{payload: joined})
	}

	p.start()
	return p, nil
}

// handleDeparture detaches a participant after its connection failed, the
// client left, or the session forced a disconnect. When the participant is
// no longer the registered connection for its user (it was superseded) only
// its own resources are released.
func (s *Session) handleDeparture(p *participant, reason CloseReason) {
	s.mu.Lock()
	if s.parts[p.userID] != p {
		s.mu.Unlock()
		p.shutdown(reason)
		return
	}
	delete(s.parts, p.userID)
	ended := s.ended
	remaining := s.othersLocked("")
	s.mu.Unlock()

	p.shutdown(reason)
	s.metrics.ActiveParticipants.Add(s.ctx, -1)
	if reason != "" {
		s.metrics.RecordDisconnect(s.ctx, string(reason))
	}
	if err := s.repo.MarkParticipantLeft(s.ctx, s.id, p.userID); err != nil {
		s.log.Warn("persist leave", "user", p.userID, "err", err)
	}
	if ended {
		return
	}

	left := mustJSON(participantLeftEvent{
		Type:   "participant_left",
		UserID: p.userID,
		LeftAt: time.Now().UnixMilli(),
	})
	for _, o := range remaining {
		o.enqueue(&outboundItem{payload: left})
	}
	if len(remaining) < 2 {
		s.end("participant_left")
	}
}

// end drives the session to its terminal state: persist, notify everyone,
// give writers a grace window to flush, then tear the connections down.
func (s *Session) end(reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	remaining := s.othersLocked("")
	s.mu.Unlock()

	s.log.Info("session ended", "reason", reason)
	if err := s.repo.MarkSessionEnded(s.ctx, s.id); err != nil {
		s.log.Warn("persist end", "err", err)
	}
	s.metrics.ActiveSessions.Add(s.ctx, -1)

	ended := mustJSON(callEndedEvent{Type: "call_ended", Reason: reason})
	for _, p := range remaining {
		p.enqueue(&outboundItem{payload: ended})
	}

	go func() {
		timer := time.NewTimer(s.cfg.Grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.ctx.Done():
		}
		s.mu.Lock()
		rest := s.othersLocked("")
		s.parts = make(map[string]*participant)
		s.mu.Unlock()
		for _, p := range append(remaining, rest...) {
			p.shutdown(CloseCallEnded)
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose(s.id)
		}
	}()
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// broadcastMuteChanged notifies every participant, the muted one included,
// so all clients agree on mute state.
func (s *Session) broadcastMuteChanged(userID string, muted bool) {
	payload := mustJSON(muteStatusEvent{
		Type:    "mute_status_changed",
		UserID:  userID,
		IsMuted: muted,
	})
	s.mu.Lock()
	all := s.othersLocked("")
	s.mu.Unlock()
	for _, p := range all {
		p.enqueue(&outboundItem{payload: payload})
	}
}

// Listeners implements route.Roster.
func (s *Session) Listeners(speaker string) []route.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]route.Listener, 0, len(s.parts))
	for id, p := range s.parts {
		if id == speaker {
			continue
		}
		out = append(out, route.Listener{ID: id, Lang: p.language, VoiceID: p.voiceID})
	}
	return out
}

// PublishInterim implements route.Sink. Captions coalesce per speaker in
// each listener's queue, so only the newest one is ever in flight.
func (s *Session) PublishInterim(c route.InterimCaption) {
	payload := mustJSON(interimTranscriptEvent{
		Type:      "interim_transcript",
		SpeakerID: c.Speaker,
		Text:      c.Text,
		Language:  c.Language,
	})
	s.mu.Lock()
	listeners := s.othersLocked(c.Speaker)
	s.mu.Unlock()
	for _, p := range listeners {
		p.enqueue(&outboundItem{interimOf: c.Speaker, payload: payload})
	}
	s.metrics.Interims.Add(s.ctx, 1)
}

// PublishFinal implements route.Sink.
func (s *Session) PublishFinal(f route.FinalTranslation) {
	s.mu.Lock()
	parts := make(map[string]*participant, len(s.parts))
	for id, p := range s.parts {
		parts[id] = p
	}
	s.mu.Unlock()

	for _, rec := range f.PerListener {
		p := parts[rec.Listener]
		if p == nil {
			// The listener left while the utterance was in flight.
			continue
		}
		payload := mustJSON(translationEvent{
			Type:           "translation",
			SpeakerID:      f.Speaker,
			SourceText:     f.SourceText,
			TranslatedText: rec.Text,
			SourceLang:     f.SourceLang,
			TargetLang:     rec.TargetLang,
			TimestampMS:    f.EndMS,
			IsFinal:        true,
			Degraded:       rec.Degraded,
		})
		p.enqueue(&outboundItem{payload: payload, audio: rec.Audio})
	}
}

// othersLocked snapshots participants, excluding one user. Callers hold mu.
func (s *Session) othersLocked(except string) []*participant {
	out := make([]*participant, 0, len(s.parts))
	for id, p := range s.parts {
		if id == except {
			continue
		}
		out = append(out, p)
	}
	return out
}
