// Package resilience provides a circuit breaker and provider failover chains.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops calls to a backend after repeated failures. [Chain] composes multiple
// instances of the same provider type with per-entry breakers so a failing
// primary is bypassed in favour of a healthy fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Trip int

	// Cooldown is how long the breaker stays open before allowing a single
	// probe call. Default: 30s.
	Cooldown time.Duration
}

// Breaker is a circuit breaker with a single-probe half-open phase: after the
// cooldown one call is let through, and its outcome decides whether the
// breaker closes again or re-opens.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	open     bool
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
}

// Do runs fn unless the breaker is open. While open and cooling down it
// returns [ErrOpen] without calling fn; after the cooldown exactly one probe
// call is admitted at a time.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.open {
		if b.probing || b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	probe := b.probing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if err != nil {
			b.openedAt = b.now()
			slog.Warn("breaker probe failed, staying open", "breaker", b.name)
		} else {
			b.open = false
			b.failures = 0
			slog.Info("breaker closed after successful probe", "breaker", b.name)
		}
		return err
	}

	if err != nil {
		b.failures++
		if b.failures >= b.trip && !b.open {
			b.open = true
			b.openedAt = b.now()
			slog.Warn("breaker opened", "breaker", b.name, "failures", b.failures)
		}
	} else {
		b.failures = 0
	}
	return err
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && (b.probing || b.now().Sub(b.openedAt) < b.cooldown)
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.probing = false
	b.failures = 0
}
