package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every provider in a [Group] either
// failed or had an open breaker. It wraps the last underlying error, so
// errors.Is still matches the provider's sentinel.
var ErrAllProvidersFailed = errors.New("resilience: all providers failed")

// GroupConfig configures the per-provider breakers of a [Group].
type GroupConfig struct {
	Breaker BreakerConfig
}

type member[T any] struct {
	name     string
	provider T
	breaker  *Breaker
}

// Group chains a primary provider and zero or more fallbacks of the same
// stage. Each member gets its own [Breaker]; calls go to the first member
// whose breaker admits them and whose call succeeds.
type Group[T any] struct {
	members []member[T]
	cfg     GroupConfig
	log     *slog.Logger
}

// NewGroup creates a [Group] with primary as its first member.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = slog.Default()
	}
	g := &Group[T]{cfg: cfg, log: cfg.Breaker.Logger}
	g.Add(name, primary)
	return g
}

// Add appends a fallback provider. Members are tried in registration order.
func (g *Group[T]) Add(name string, provider T) {
	bcfg := g.cfg.Breaker
	bcfg.Name = name
	g.members = append(g.members, member[T]{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(bcfg),
	})
}

// Len returns the number of members, primary included.
func (g *Group[T]) Len() int { return len(g.members) }

// Do tries fn against each member of g in order until one succeeds. Members
// with an open breaker are skipped. Go has no method-level type parameters,
// so this is a package function.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(m.provider)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("skipping provider, circuit open", "provider", m.name)
		} else {
			g.log.Warn("provider call failed", "provider", m.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}
