// Package mock provides a test double for the pipeline.Pipeline interface.
//
// Use Pipeline in turn-controller tests to resolve runs at a controlled
// moment: set Block to true and release each parked Process call with
// [Pipeline.Resolve].
package mock

import (
	"context"
	"sync"

	"github.com/jabber-ai/jabber/internal/pipeline"
)

// ProcessCall records a single invocation of Process.
type ProcessCall struct {
	// Ctx is the context passed to Process.
	Ctx context.Context
	// Req is the Request passed to Process.
	Req pipeline.Request
}

// Pipeline is a mock implementation of pipeline.Pipeline.
// Zero values cause Process to return a zero Result and nil error immediately.
type Pipeline struct {
	mu sync.Mutex

	// ProcessResult is returned by Process.
	ProcessResult pipeline.Result

	// ProcessErr, if non-nil, is returned as the error from Process.
	ProcessErr error

	// Block, when true, parks each Process call until Resolve is called.
	Block bool

	// ProcessCalls records every invocation of Process in order.
	ProcessCalls []ProcessCall

	waiters []chan struct{}
}

// Process records the call and returns the configured result, optionally
// blocking until released by Resolve.
func (p *Pipeline) Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	p.mu.Lock()
	p.ProcessCalls = append(p.ProcessCalls, ProcessCall{Ctx: ctx, Req: req})
	var release chan struct{}
	if p.Block {
		release = make(chan struct{})
		p.waiters = append(p.waiters, release)
	}
	p.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProcessResult, p.ProcessErr
}

// Resolve releases the oldest parked Process call. Returns false when none is
// parked.
func (p *Pipeline) Resolve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.waiters) == 0 {
		return false
	}
	close(p.waiters[0])
	p.waiters = p.waiters[1:]
	return true
}

// CallCount returns the number of recorded Process calls. Thread-safe.
func (p *Pipeline) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ProcessCalls)
}

// Ensure Pipeline implements pipeline.Pipeline at compile time.
var _ pipeline.Pipeline = (*Pipeline)(nil)
