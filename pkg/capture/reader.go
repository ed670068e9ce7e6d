package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jabber-ai/jabber/pkg/audio"
)

// ReaderSource adapts an io.Reader of raw 16-bit little-endian PCM into a
// [Source], emitting fixed-size frames at the real-time rate of the audio.
// It is the capture backend for recordings and tests; a live device adapter
// would implement [Source] directly.
type ReaderSource struct {
	r          io.Reader
	format     audio.Format
	frameEvery time.Duration
	realtime   bool

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// ReaderOption configures a [ReaderSource].
type ReaderOption func(*ReaderSource)

// WithFrameInterval sets the duration of audio per emitted frame.
// Default: 20ms.
func WithFrameInterval(d time.Duration) ReaderOption {
	return func(s *ReaderSource) {
		if d > 0 {
			s.frameEvery = d
		}
	}
}

// WithoutPacing disables real-time pacing so frames are emitted as fast as
// the reader delivers them. Tests use this to avoid wall-clock waits.
func WithoutPacing() ReaderOption {
	return func(s *ReaderSource) { s.realtime = false }
}

// NewReaderSource creates a source reading raw PCM in the given format from r.
func NewReaderSource(r io.Reader, format audio.Format, opts ...ReaderOption) *ReaderSource {
	s := &ReaderSource{
		r:          r,
		format:     format,
		frameEvery: 20 * time.Millisecond,
		realtime:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements [Source]. Frames carry timestamps relative to the first
// frame. The returned channel is closed on EOF, Close, or ctx cancellation.
func (s *ReaderSource) Open(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("capture: source already closed")
	}
	if s.cancel != nil {
		return nil, fmt.Errorf("capture: source already open")
	}
	if s.format.SampleRate <= 0 || s.format.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid format %dHz %dch", s.format.SampleRate, s.format.Channels)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	frameBytes := int(int64(s.format.SampleRate)*int64(s.frameEvery)/int64(time.Second)) * 2 * s.format.Channels
	out := make(chan audio.AudioFrame, 16)

	go s.readLoop(ctx, out, frameBytes)
	return out, nil
}

func (s *ReaderSource) readLoop(ctx context.Context, out chan<- audio.AudioFrame, frameBytes int) {
	defer close(out)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.frameEvery)
		defer ticker.Stop()
	}

	var elapsed time.Duration
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  elapsed,
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			elapsed += s.frameEvery
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("capture: read failed, closing stream", "error", err)
			}
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close implements [Source].
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

var _ Source = (*ReaderSource)(nil)
