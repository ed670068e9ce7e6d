// Package playback plays synthesized reply clips on an output sink.
//
// The contract that the turn controller depends on: for every successful call
// to [Player.Play] the done callback runs exactly once, whether playback
// finishes normally, fails mid-stream, or is stopped. A Play call that returns
// an error has NOT started playback and its done callback never runs.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jabber-ai/jabber/pkg/audio"
)

// ErrBusy is returned by Play when a previous clip is still playing.
var ErrBusy = errors.New("playback: player is busy")

// Player starts and stops clip playback.
type Player interface {
	// Play begins playback and returns once it has started. done runs exactly
	// once when playback ends for any reason; its error is nil for normal
	// completion, ctx or stop cancellation otherwise. A non-nil return means
	// playback never started and done will not be called.
	Play(ctx context.Context, clip []byte, mimeType string, done func(error)) error

	// Stop cancels the in-flight playback, if any. The pending done callback
	// still runs (once).
	Stop()
}

// Compile-time interface check.
var _ Player = (*SinkPlayer)(nil)

// SinkPlayer decodes a WAV clip and writes its PCM frames to an output sink,
// paced at real time so the done callback fires when a listener would actually
// have heard the clip end.
//
// Safe for concurrent use; only one clip plays at a time.
type SinkPlayer struct {
	sink          io.Writer
	frameInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
}

// SinkOption configures a [SinkPlayer].
type SinkOption func(*SinkPlayer)

// WithFrameInterval sets the pacing interval for PCM writes. Default: 20ms.
func WithFrameInterval(d time.Duration) SinkOption {
	return func(p *SinkPlayer) {
		p.frameInterval = d
	}
}

// NewSinkPlayer creates a player writing PCM to sink.
func NewSinkPlayer(sink io.Writer, opts ...SinkOption) *SinkPlayer {
	p := &SinkPlayer{
		sink:          sink,
		frameInterval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play implements [Player]. Only "audio/wav" clips are supported; anything
// else is a start failure.
func (p *SinkPlayer) Play(ctx context.Context, clip []byte, mimeType string, done func(error)) error {
	if mimeType != "audio/wav" && mimeType != "audio/x-wav" {
		return fmt.Errorf("playback: unsupported MIME type %q", mimeType)
	}

	pcm, sampleRate, channels, err := audio.DecodeWAV(clip)
	if err != nil {
		return fmt.Errorf("playback: decode clip: %w", err)
	}

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return ErrBusy
	}
	playCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			p.mu.Lock()
			p.playing = false
			p.cancel = nil
			p.mu.Unlock()
			cancel()
			if done != nil {
				done(err)
			}
		})
	}

	go p.stream(playCtx, pcm, sampleRate, channels, finish)
	return nil
}

// Stop implements [Player].
func (p *SinkPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// stream writes pcm to the sink one frame interval at a time.
func (p *SinkPlayer) stream(ctx context.Context, pcm []byte, sampleRate, channels int, finish func(error)) {
	frameBytes := sampleRate * channels * 2 * int(p.frameInterval.Milliseconds()) / 1000
	if frameBytes <= 0 {
		finish(fmt.Errorf("playback: invalid frame size for rate %d", sampleRate))
		return
	}

	ticker := time.NewTicker(p.frameInterval)
	defer ticker.Stop()

	for offset := 0; offset < len(pcm); offset += frameBytes {
		end := min(offset+frameBytes, len(pcm))

		if _, err := p.sink.Write(pcm[offset:end]); err != nil {
			finish(fmt.Errorf("playback: write to sink: %w", err))
			return
		}

		select {
		case <-ctx.Done():
			finish(ctx.Err())
			return
		case <-ticker.C:
		}
	}

	finish(nil)
}
