// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g. the OpenAI audio API
// or ElevenLabs) behind a uniform batch interface: the caller submits the
// full reply text and receives one finished audio clip. The agent speaks one
// complete reply per turn, so clip-at-a-time synthesis is the natural unit
// here.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request carries one reply text for synthesis.
type Request struct {
	// Text is the content to speak. Must be non-empty.
	Text string

	// Voice is the provider-specific voice identifier. Empty means the
	// provider default.
	Voice string
}

// Result is a finished audio clip.
type Result struct {
	// Audio is the encoded clip data.
	Audio []byte

	// MIMEType describes the clip encoding (e.g. "audio/mpeg", "audio/wav").
	MIMEType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to one audio clip, blocking until the clip is
	// complete or ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (Result, error)
}
