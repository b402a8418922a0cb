package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/ttscache"
	"github.com/voxbridge/voxbridge/pkg/speech"
)

// Hub owns the live sessions of one orchestrator node. Session records come
// from the repository; the hub instantiates the in-process side on the
// first join and tears it down when the call ends.
type Hub struct {
	cfg     Config
	repo    store.Repository
	adapter speech.Adapter
	cache   *ttscache.Cache
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a hub. The synthesis cache is shared across all sessions
// so repeated phrases hit regardless of which call produced them.
func NewHub(cfg Config, repo store.Repository, adapter speech.Adapter, metrics *observe.Metrics, log *slog.Logger) *Hub {
	cfg.normalize()
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	cache := ttscache.New(adapter.Synthesizer, cfg.TTSCacheCapacity,
		ttscache.WithEvents(
			func(ctx context.Context) { metrics.CacheHits.Add(ctx, 1) },
			func(ctx context.Context) { metrics.CacheMisses.Add(ctx, 1) },
		))
	return &Hub{
		cfg:      cfg,
		repo:     repo,
		adapter:  adapter,
		cache:    cache,
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// CreateSession registers a new call in the repository and returns its
// generated identifier. The in-process session spins up lazily on the
// first join.
func (h *Hub) CreateSession(ctx context.Context, callLang string, participants []store.Participant) (string, error) {
	id := uuid.NewString()
	err := h.repo.CreateSession(ctx, store.Session{
		ID:           id,
		CallLanguage: callLang,
		Participants: participants,
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Join attaches conn to a session as userID and blocks until the
// participant detaches. Rejections close conn with the matching reason
// before returning.
func (h *Hub) Join(ctx context.Context, conn Conn, sessionID, userID string) error {
	rec, err := h.repo.LoadSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		_ = conn.Close(CloseUnknownSession)
		return fmt.Errorf("join %s: %w", sessionID, err)
	}
	if err != nil {
		_ = conn.Close(CloseUnknownSession)
		return fmt.Errorf("join %s: load session: %w", sessionID, err)
	}
	// Any non-ended state admits; initiating and ringing calls turn
	// ongoing when the first participant is marked joined.
	if rec.State == store.StateEnded {
		_ = conn.Close(CloseCallEnded)
		return ErrSessionEnded
	}
	part := rec.Participant(userID)
	if part == nil {
		h.metrics.RecordDisconnect(ctx, string(CloseUnauthorized))
		_ = conn.Close(CloseUnauthorized)
		return fmt.Errorf("join %s: user %s: %w", sessionID, userID, ErrUnauthorized)
	}

	sess, err := h.session(sessionID, rec.CallLanguage)
	if err != nil {
		_ = conn.Close(CloseUnauthorized)
		return err
	}
	p, err := sess.admit(userID, part.Language, part.VoiceID, conn)
	if err != nil {
		return fmt.Errorf("join %s: %w", sessionID, err)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		sess.handleDeparture(p, "")
	}
	return nil
}

// session returns the live session, creating it when this is the first
// participant on this node.
func (h *Hub) session(id, callLang string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		return s, nil
	}
	if len(h.sessions) >= h.cfg.MaxSessions {
		return nil, fmt.Errorf("session capacity reached: %w", ErrUnauthorized)
	}
	s := newSession(context.Background(), id, callLang, h.cfg, h.repo, h.adapter, h.cache, h.metrics, h.log, h.remove)
	h.sessions[id] = s
	h.metrics.ActiveSessions.Add(context.Background(), 1)
	return s, nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// SessionCount reports live sessions on this node.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown ends every live session and waits for teardown or context
// expiry.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.end("server_shutdown")
	}
	for _, s := range live {
		select {
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
