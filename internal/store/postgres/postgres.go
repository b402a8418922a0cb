// Package postgres implements the call session repository on PostgreSQL.
// Single-node deployments use the in-memory repository; this one exists so
// several orchestrator nodes can share a session registry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxbridge/voxbridge/internal/store"
)

var _ store.Repository = (*Repository)(nil)

// Repository is a PostgreSQL-backed store.Repository over a single
// [pgxpool.Pool]. All methods are safe for concurrent use.
type Repository struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and runs
// Migrate so the required tables exist.
func New(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres repository: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres repository: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres repository: migrate: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close releases all pooled connections.
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping reports connectivity; the readiness probe uses it.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrate creates the call_sessions and call_participants tables when they
// do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS call_sessions (
		    id            TEXT PRIMARY KEY,
		    call_language TEXT NOT NULL,
		    state         TEXT NOT NULL,
		    started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		    ended_at      TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS call_participants (
		    session_id TEXT NOT NULL REFERENCES call_sessions(id) ON DELETE CASCADE,
		    user_id    TEXT NOT NULL,
		    language   TEXT NOT NULL,
		    voice_id   TEXT NOT NULL DEFAULT '',
		    connected  BOOLEAN NOT NULL DEFAULT FALSE,
		    PRIMARY KEY (session_id, user_id)
		);`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateSession implements store.Repository.
func (r *Repository) CreateSession(ctx context.Context, s store.Session) error {
	state := s.State
	if state == "" {
		state = store.StateInitiating
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres repository: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSession = `
		INSERT INTO call_sessions (id, call_language, state, started_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertSession, s.ID, s.CallLanguage, string(state), s.StartedAt); err != nil {
		return fmt.Errorf("postgres repository: insert session: %w", err)
	}

	const insertParticipant = `
		INSERT INTO call_participants (session_id, user_id, language, voice_id, connected)
		VALUES ($1, $2, $3, $4, $5)`
	for _, p := range s.Participants {
		if _, err := tx.Exec(ctx, insertParticipant, s.ID, p.UserID, p.Language, p.VoiceID, p.Connected); err != nil {
			return fmt.Errorf("postgres repository: insert participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres repository: commit: %w", err)
	}
	return nil
}

// LoadSession implements store.Repository.
func (r *Repository) LoadSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `
		SELECT id, call_language, state, started_at, ended_at
		FROM   call_sessions
		WHERE  id = $1`

	var s store.Session
	var state string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.CallLanguage, &state, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres repository: load session: %w", err)
	}
	s.State = store.State(state)

	s.Participants, err = r.participants(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkParticipantJoined implements store.Repository.
func (r *Repository) MarkParticipantJoined(ctx context.Context, sessionID, userID string) error {
	const q = `
		UPDATE call_participants
		SET    connected = TRUE
		WHERE  session_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, sessionID, userID)
	if err != nil {
		return fmt.Errorf("postgres repository: mark joined: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missing(ctx, sessionID)
	}

	const promote = `
		UPDATE call_sessions
		SET    state = 'ongoing'
		WHERE  id = $1 AND state IN ('initiating', 'ringing')`
	if _, err := r.pool.Exec(ctx, promote, sessionID); err != nil {
		return fmt.Errorf("postgres repository: promote session: %w", err)
	}
	return nil
}

// MarkParticipantLeft implements store.Repository.
func (r *Repository) MarkParticipantLeft(ctx context.Context, sessionID, userID string) error {
	const q = `
		UPDATE call_participants
		SET    connected = FALSE
		WHERE  session_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, sessionID, userID)
	if err != nil {
		return fmt.Errorf("postgres repository: mark left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missing(ctx, sessionID)
	}
	return nil
}

// MarkSessionEnded implements store.Repository. ended_at is only written on
// the first transition so repeats keep the original timestamp.
func (r *Repository) MarkSessionEnded(ctx context.Context, sessionID string) error {
	const q = `
		UPDATE call_sessions
		SET    state = 'ended',
		       ended_at = COALESCE(ended_at, now())
		WHERE  id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return fmt.Errorf("postgres repository: mark ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	const disconnect = `
		UPDATE call_participants
		SET    connected = FALSE
		WHERE  session_id = $1`
	if _, err := r.pool.Exec(ctx, disconnect, sessionID); err != nil {
		return fmt.Errorf("postgres repository: disconnect participants: %w", err)
	}
	return nil
}

// ListConnected implements store.Repository.
func (r *Repository) ListConnected(ctx context.Context, sessionID string) ([]store.Participant, error) {
	exists, err := r.sessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return r.participants(ctx, sessionID, true)
}

// participants loads the participant rows for a session, optionally only
// the connected ones.
func (r *Repository) participants(ctx context.Context, sessionID string, connectedOnly bool) ([]store.Participant, error) {
	q := `
		SELECT user_id, language, voice_id, connected
		FROM   call_participants
		WHERE  session_id = $1`
	if connectedOnly {
		q += " AND connected"
	}
	q += " ORDER BY user_id"

	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres repository: list participants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Participant, error) {
		var p store.Participant
		err := row.Scan(&p.UserID, &p.Language, &p.VoiceID, &p.Connected)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres repository: scan participants: %w", err)
	}
	return out, nil
}

// missing distinguishes an unknown session from an unknown participant
// after an update matched zero rows.
func (r *Repository) missing(ctx context.Context, sessionID string) error {
	exists, err := r.sessionExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrNotParticipant
}

func (r *Repository) sessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM call_sessions WHERE id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres repository: check session: %w", err)
	}
	return exists, nil
}
