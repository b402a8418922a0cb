// Package store persists call session state: which sessions exist, who may
// join them, who is connected, and when the call ended. The orchestrator
// is the only writer.
package store

import (
	"context"
	"errors"
	"time"
)

// State is the call session lifecycle state. Ended is absorbing.
type State string

const (
	StateInitiating State = "initiating"
	StateRinging    State = "ringing"
	StateOngoing    State = "ongoing"
	StateEnded      State = "ended"
)

// Errors returned by Repository implementations.
var (
	ErrNotFound       = errors.New("session not found")
	ErrNotParticipant = errors.New("user is not a participant of the session")
)

// Participant is one member of a call session.
type Participant struct {
	UserID string

	// Language is both the spoken and the listening language.
	Language string

	// VoiceID is the participant's preferred synthesis voice; empty means
	// the target-language default.
	VoiceID string

	// Connected reports an active connection in the orchestrator.
	Connected bool
}

// Session is the persistent view of one call.
type Session struct {
	ID string

	// CallLanguage is the caller's language, fixed at creation.
	CallLanguage string

	State        State
	Participants []Participant
	StartedAt    time.Time

	// EndedAt is set exactly once, when the session ends.
	EndedAt *time.Time
}

// Participant returns the participant with the given user id, or nil.
func (s *Session) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Repository stores call sessions. All methods are safe for concurrent use.
type Repository interface {
	// CreateSession stores a new session with its participant set.
	CreateSession(ctx context.Context, s Session) error

	// LoadSession returns a session by id, ErrNotFound when absent.
	LoadSession(ctx context.Context, id string) (*Session, error)

	// MarkParticipantJoined records an active connection for the user and
	// promotes an initiating or ringing session to ongoing.
	MarkParticipantJoined(ctx context.Context, sessionID, userID string) error

	// MarkParticipantLeft clears the user's connected flag.
	MarkParticipantLeft(ctx context.Context, sessionID, userID string) error

	// MarkSessionEnded moves the session to ended and sets EndedAt. The
	// timestamp is written once; repeated calls are no-ops.
	MarkSessionEnded(ctx context.Context, sessionID string) error

	// ListConnected returns the currently connected participants.
	ListConnected(ctx context.Context, sessionID string) ([]Participant, error)
}
