// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline submits correct
// transcription requests and to feed controlled transcripts without a live
// STT backend. All fields are safe to set before calling any method.
package mock

import (
	"context"
	"sync"

	"github.com/jabber-ai/jabber/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe.
	TranscribeResult stt.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if non-nil, is called instead of returning the fixed
	// result. Useful for per-call behaviour such as blocking on a channel.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})
	fn := p.TranscribeFunc
	result, err := p.TranscribeResult, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
