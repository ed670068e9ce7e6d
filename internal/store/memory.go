package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store] implementation. Clips older than the
// configured retention are evicted lazily on Put.
//
// Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	clips     map[string]Clip
	retention time.Duration
	now       func() time.Time
}

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithRetention sets how long clips are kept before lazy eviction.
// Zero or negative disables eviction. Default: 1 hour.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.retention = d
	}
}

// NewMemoryStore creates an empty in-memory clip store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clips:     make(map[string]Clip),
		retention: time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements [Store].
func (s *MemoryStore) Put(_ context.Context, audio []byte, mimeType string) (string, error) {
	id := newClipID()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(now)
	s.clips[id] = Clip{
		ID:        id,
		Audio:     audio,
		MIMEType:  mimeType,
		CreatedAt: now,
	}
	return id, nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clip, ok := s.clips[id]
	if !ok {
		return Clip{}, ErrNotFound
	}
	return clip, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clips, id)
	return nil
}

// Len returns the number of stored clips.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

// evictLocked removes expired clips. Caller must hold s.mu.
func (s *MemoryStore) evictLocked(now time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := now.Add(-s.retention)
	for id, clip := range s.clips {
		if clip.CreatedAt.Before(cutoff) {
			delete(s.clips, id)
		}
	}
}
