package resilience

import (
	"context"

	"github.com/jabber-ai/jabber/pkg/provider/llm"
	"github.com/jabber-ai/jabber/pkg/provider/stt"
	"github.com/jabber-ai/jabber/pkg/provider/tts"
)

// STTChain implements [stt.Provider] with failover across multiple
// transcription backends.
type STTChain struct {
	chain *Chain[stt.Provider]
}

var _ stt.Provider = (*STTChain)(nil)

// NewSTTChain creates an [STTChain] with primary as the preferred backend.
func NewSTTChain(primaryName string, primary stt.Provider, breaker BreakerConfig) *STTChain {
	return &STTChain{chain: NewChain(primaryName, primary, breaker)}
}

// Add registers an additional transcription backend as a fallback.
func (c *STTChain) Add(name string, p stt.Provider) { c.chain.Add(name, p) }

// Transcribe sends the request to the first healthy backend.
func (c *STTChain) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return call(c.chain, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLMChain implements [llm.Provider] with failover across multiple completion
// backends.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates an [LLMChain] with primary as the preferred backend.
func NewLLMChain(primaryName string, primary llm.Provider, breaker BreakerConfig) *LLMChain {
	return &LLMChain{chain: NewChain(primaryName, primary, breaker)}
}

// Add registers an additional completion backend as a fallback.
func (c *LLMChain) Add(name string, p llm.Provider) { c.chain.Add(name, p) }

// Complete sends the request to the first healthy backend.
func (c *LLMChain) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return call(c.chain, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}

// TTSChain implements [tts.Provider] with failover across multiple synthesis
// backends.
type TTSChain struct {
	chain *Chain[tts.Provider]
}

var _ tts.Provider = (*TTSChain)(nil)

// NewTTSChain creates a [TTSChain] with primary as the preferred backend.
func NewTTSChain(primaryName string, primary tts.Provider, breaker BreakerConfig) *TTSChain {
	return &TTSChain{chain: NewChain(primaryName, primary, breaker)}
}

// Add registers an additional synthesis backend as a fallback.
func (c *TTSChain) Add(name string, p tts.Provider) { c.chain.Add(name, p) }

// Synthesize sends the request to the first healthy backend.
func (c *TTSChain) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	return call(c.chain, func(p tts.Provider) (tts.Result, error) {
		return p.Synthesize(ctx, req)
	})
}
