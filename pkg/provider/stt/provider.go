// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g. the OpenAI audio API or
// a local whisper.cpp instance) behind a uniform batch interface: the caller
// hands over one complete utterance as a WAV clip and receives its transcript.
// The turn controller only ever submits finished utterances, so no streaming
// session management is needed at this boundary.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request carries one complete utterance for transcription.
type Request struct {
	// WAV is the utterance audio in a RIFF/WAVE container with 16-bit PCM
	// payload. Must be non-empty.
	WAV []byte

	// Language is the BCP-47 language tag for recognition (e.g. "en", "de").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Prompt is an optional context hint for the recogniser. Providers that
	// do not support prompting ignore it.
	Prompt string
}

// Result is the transcription outcome for one utterance.
type Result struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple utterances may be
// transcribed in parallel.
type Provider interface {
	// Transcribe submits one utterance and blocks until the transcript is
	// available or ctx is cancelled. An empty transcript with a nil error
	// means the provider recognised no speech.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
