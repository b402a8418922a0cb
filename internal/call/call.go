// Package call implements the session orchestrator: the per-call WebSocket
// hub that admits participants, fans their audio into per-speaker
// segmenters, routes translation output back to the right listeners, and
// drives the call lifecycle.
//
// Ownership is strictly tree shaped. The Hub owns Sessions; a Session owns
// its participants and its router; a participant owns its reader and writer
// goroutines, its bounded outbound queue, and its segmenter. Cross-goroutine
// communication happens only through bounded queues and the session's
// single-writer control path.
package call

import (
	"errors"
	"time"

	"github.com/voxbridge/voxbridge/internal/route"
	"github.com/voxbridge/voxbridge/internal/segment"
)

// Failure kinds of the orchestrator. Pipeline failure kinds live in
// pkg/speech.
var (
	// ErrSlowConsumer marks a listener whose outbound queue stayed
	// saturated after interim drops and audio truncation.
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrUnauthorized marks a failed admission.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProtocol marks malformed input on an established channel.
	ErrProtocol = errors.New("protocol violation")

	// ErrSessionEnded marks traffic on a terminal session.
	ErrSessionEnded = errors.New("session ended")
)

// Config holds the orchestrator tunables. Zero values select the defaults.
type Config struct {
	// MaxParticipants caps concurrently connected participants per session.
	MaxParticipants int

	// MaxSessions caps live sessions in the hub.
	MaxSessions int

	// OutboundQueue bounds each listener's outbound message queue.
	OutboundQueue int

	// Grace is how long teardown waits for the writers to flush the
	// call_ended event before closing connections.
	Grace time.Duration

	// TTSCacheCapacity bounds the process-wide synthesis cache.
	TTSCacheCapacity int

	// Segment configures the per-speaker segmenters, including the
	// inbound frame queue bound.
	Segment segment.Config

	// Route configures the per-session translation router.
	Route route.Config
}

const (
	defaultMaxParticipants = 4
	defaultMaxSessions     = 64
	defaultOutboundQueue   = 64
	defaultGrace           = time.Second
)

func (c *Config) normalize() {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = defaultMaxParticipants
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = defaultOutboundQueue
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
}
