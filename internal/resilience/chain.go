package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrExhausted is returned when every entry in a [Chain] fails or is
// circuit-open.
var ErrExhausted = errors.New("resilience: all providers failed")

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries a primary and then its fallbacks, in registration order, each
// guarded by its own [Breaker]. The type parameter is the provider interface
// being chained.
type Chain[T any] struct {
	mu      sync.RWMutex
	entries []chainEntry[T]
	breaker BreakerConfig
}

// NewChain creates a [Chain] with primary as the first entry. The breaker
// config is applied per entry; the Name field is replaced with the entry name.
func NewChain[T any](primaryName string, primary T, breaker BreakerConfig) *Chain[T] {
	c := &Chain[T]{breaker: breaker}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback, tried after all earlier entries.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.breaker
	cfg.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Len returns the number of entries in the chain.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// call runs fn against each entry until one succeeds, skipping entries whose
// breaker is open. A package-level function because methods cannot add type
// parameters.
func call[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for _, e := range entries {
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
