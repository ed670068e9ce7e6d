// Package store persists synthesized reply clips so they can be served back
// over HTTP. Two implementations are provided: an in-memory store for
// development and tests, and a PostgreSQL-backed store for deployments where
// clips must survive restarts.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] when no clip exists for the given ID.
var ErrNotFound = errors.New("store: clip not found")

// Clip is a stored synthesized audio reply.
type Clip struct {
	// ID uniquely identifies the clip. Assigned by [Store.Put].
	ID string

	// Audio is the encoded audio payload.
	Audio []byte

	// MIMEType describes the audio encoding, e.g. "audio/wav" or "audio/mpeg".
	MIMEType string

	// CreatedAt is the time the clip was stored.
	CreatedAt time.Time
}

// Store persists and retrieves audio clips.
//
// All methods are safe for concurrent use.
type Store interface {
	// Put stores the given audio under a freshly generated ID and returns it.
	Put(ctx context.Context, audio []byte, mimeType string) (id string, err error)

	// Get returns the clip with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (Clip, error)

	// Delete removes the clip with the given ID. Deleting a missing clip is
	// not an error.
	Delete(ctx context.Context, id string) error
}

// newClipID returns a random 128-bit hex clip identifier.
func newClipID() string {
	var b [16]byte
	// rand.Read on crypto/rand never fails on supported platforms.
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
