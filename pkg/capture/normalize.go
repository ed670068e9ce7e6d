package capture

import (
	"context"

	"github.com/jabber-ai/jabber/pkg/audio"
)

// NormalizedSource wraps a [Source] and converts every frame it emits to a
// fixed target format. Frames already in the target format pass through
// unchanged; everything else is resampled and down-mixed by
// [audio.ConvertStream]. The detector downstream then only ever sees one
// format regardless of what the device delivers.
type NormalizedSource struct {
	src    Source
	target audio.Format
}

// Normalize wraps src so every frame from Open is converted to target.
func Normalize(src Source, target audio.Format) *NormalizedSource {
	return &NormalizedSource{src: src, target: target}
}

// Open implements [Source]. The returned channel closes when the wrapped
// source's channel closes.
func (s *NormalizedSource) Open(ctx context.Context) (<-chan audio.AudioFrame, error) {
	frames, err := s.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return audio.ConvertStream(frames, s.target), nil
}

// Close implements [Source] by closing the wrapped source.
func (s *NormalizedSource) Close() error {
	return s.src.Close()
}

var _ Source = (*NormalizedSource)(nil)
