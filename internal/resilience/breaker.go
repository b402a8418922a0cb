// Package resilience shields the translation pipeline from failing speech
// providers.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops the pipeline from hammering a provider that keeps failing; while the
// breaker is open, calls fail immediately and the degraded delivery paths
// take over without waiting out the provider timeout. [Group] chains several
// providers of one stage behind per-provider breakers, and the
// RecognizerGroup, TranslatorGroup, and SynthesizerGroup wrappers apply it to
// the speech interfaces so a configured fallback provider serves requests
// when the primary trips.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] without invoking the call while
// the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen

	// StateHalfOpen forwards a bounded number of probe calls to decide
	// whether the provider has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is the consecutive failure count that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is how many probe calls half-open admits, and how many
	// must succeed before the breaker closes again. Default 3.
	HalfOpenProbes int

	// Logger receives state transition logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name           string
	maxFailures    int
	resetTimeout   time.Duration
	halfOpenProbes int
	log            *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:           cfg.Name,
		maxFailures:    cfg.MaxFailures,
		resetTimeout:   cfg.ResetTimeout,
		halfOpenProbes: cfg.HalfOpenProbes,
		log:            cfg.Logger,
	}
}

// Do runs fn unless the breaker is open, in which case it returns
// [ErrCircuitOpen] immediately. fn's error feeds the failure accounting.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probe)
	} else {
		b.onSuccess(probe)
	}
	return err
}

// admit decides whether a call may proceed. The bool reports whether the
// call counts as a half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		b.log.Info("circuit probing provider", "breaker", b.name)
	case StateHalfOpen:
		if b.probes >= b.halfOpenProbes {
			return false, ErrCircuitOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probe bool) {
	b.openedAt = time.Now()

	if probe {
		// One failed probe is enough to re-open.
		b.probeFails++
		b.state = StateOpen
		b.failures = b.maxFailures
		b.log.Warn("circuit re-opened, provider still failing", "breaker", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		b.log.Warn("circuit opened",
			"breaker", b.name,
			"consecutive_failures", b.failures,
		)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probe bool) {
	if probe {
		if b.probes-b.probeFails >= b.halfOpenProbes {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("circuit closed, provider recovered", "breaker", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current mode. An open breaker whose reset
// timeout has elapsed reports half-open; the transition itself happens on
// the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
}
