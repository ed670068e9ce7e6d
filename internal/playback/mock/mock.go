// Package mock provides a test double for the playback.Player interface.
//
// Use Player in unit tests to drive the turn controller through playback
// lifecycle transitions without real audio output. Tests control exactly when
// a clip "ends" by calling [Player.Finish].
package mock

import (
	"context"
	"sync"

	"github.com/jabber-ai/jabber/internal/playback"
)

// PlayCall records a single invocation of Play.
type PlayCall struct {
	// Ctx is the context passed to Play.
	Ctx context.Context
	// Clip is the audio payload passed to Play.
	Clip []byte
	// MIMEType is the MIME type passed to Play.
	MIMEType string
}

// Player is a mock implementation of playback.Player. A successful Play holds
// the done callback until the test calls Finish or Stop.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned from Play (start failure; done is
	// never invoked).
	PlayErr error

	// PlayCalls records every invocation of Play in order.
	PlayCalls []PlayCall

	// StopCalls counts invocations of Stop.
	StopCalls int

	pending func(error)
}

// Play records the call and, on success, parks the done callback for a later
// Finish or Stop.
func (p *Player) Play(ctx context.Context, clip []byte, mimeType string, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.PlayCalls = append(p.PlayCalls, PlayCall{Ctx: ctx, Clip: clip, MIMEType: mimeType})
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.pending = done
	return nil
}

// Stop counts the call and completes the pending playback with
// context.Canceled, matching the real player's stop semantics.
func (p *Player) Stop() {
	p.mu.Lock()
	p.StopCalls++
	done := p.pending
	p.pending = nil
	p.mu.Unlock()

	if done != nil {
		done(context.Canceled)
	}
}

// Finish completes the pending playback with the given error (nil for normal
// completion). Returns false when no playback is pending.
func (p *Player) Finish(err error) bool {
	p.mu.Lock()
	done := p.pending
	p.pending = nil
	p.mu.Unlock()

	if done == nil {
		return false
	}
	done(err)
	return true
}

// Playing reports whether a clip is currently pending.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// CallCount returns the number of recorded Play calls. Thread-safe.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PlayCalls)
}

// Ensure Player implements playback.Player at compile time.
var _ playback.Player = (*Player)(nil)
