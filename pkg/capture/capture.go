// Package capture defines the audio input boundary of the agent.
//
// A [Source] hands out a stream of [audio.AudioFrame] values from some input
// device or recording. Implementations wrap whatever the host platform
// provides (a microphone backend, a network tap, a file); the interface is
// intentionally narrow so the rest of the pipeline never touches device
// details.
//
// This package lives under pkg/ because external code (platform-specific
// capture adapters) is expected to implement [Source].
package capture

import (
	"context"
	"errors"

	"github.com/jabber-ai/jabber/pkg/audio"
)

// ErrPermissionDenied is returned by [Source.Open] when the host refuses
// access to the input device. Callers treat this as fatal for the current
// session start; the device will not become available by retrying.
var ErrPermissionDenied = errors.New("capture: input device permission denied")

// Source is an audio input device or recording.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the device and returns a channel delivering captured
	// frames in order. The channel is closed when the source is exhausted,
	// Close is called, or ctx is cancelled. Open returns
	// [ErrPermissionDenied] (possibly wrapped) when device access is
	// refused.
	Open(ctx context.Context) (<-chan audio.AudioFrame, error)

	// Close releases the device and closes the frame channel. Safe to call
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}
