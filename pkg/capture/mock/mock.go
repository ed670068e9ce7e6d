// Package mock provides an in-memory mock implementation of [capture.Source]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so tests
// can assert on call counts, and exposes exported fields to control return
// values. Tests push frames through [Source.Emit] and end the stream with
// [Source.EndStream].
package mock

import (
	"context"
	"sync"

	"github.com/jabber-ai/jabber/pkg/audio"
	"github.com/jabber-ai/jabber/pkg/capture"
)

// Source is a mock implementation of [capture.Source].
// Set the exported fields before use; inspect the CallCount* fields after.
type Source struct {
	mu sync.Mutex

	// OpenError is returned by Open. Set to capture.ErrPermissionDenied to
	// simulate a device permission failure.
	OpenError error

	// CloseError is returned by Close.
	CloseError error

	// Buffer is the capacity of the frame channel handed out by Open.
	// Defaults to 16 when zero.
	Buffer int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ch     chan audio.AudioFrame
	closed bool
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	buf := s.Buffer
	if buf == 0 {
		buf = 16
	}
	s.ch = make(chan audio.AudioFrame, buf)
	s.closed = false
	return s.ch, nil
}

// Close implements [capture.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
	return s.CloseError
}

// Emit pushes a frame into the open stream. Panics if Open was not called.
func (s *Source) Emit(frame audio.AudioFrame) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	ch <- frame
}

// EndStream closes the frame channel, simulating source exhaustion.
func (s *Source) EndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
}

var _ capture.Source = (*Source)(nil)
