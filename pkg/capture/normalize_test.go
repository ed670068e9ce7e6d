package capture_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jabber-ai/jabber/pkg/audio"
	"github.com/jabber-ai/jabber/pkg/capture"
	capmock "github.com/jabber-ai/jabber/pkg/capture/mock"
)

func TestNormalize_ResamplesAndDownmixes(t *testing.T) {
	t.Parallel()

	// 60ms of stereo 48kHz PCM from the reader, normalized to mono 16kHz.
	pcm := make([]byte, 48000*2*2*60/1000)
	src := capture.Normalize(
		capture.NewReaderSource(bytes.NewReader(pcm),
			audio.Format{SampleRate: 48000, Channels: 2},
			capture.WithoutPacing(),
		),
		audio.Format{SampleRate: 16000, Channels: 1},
	)

	frames, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var got []audio.AudioFrame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("frame count: got %d, want 3", len(got))
	}
	for i, f := range got {
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d format: got %dHz %dch, want 16000Hz 1ch", i, f.SampleRate, f.Channels)
		}
		// 20ms of mono 16kHz is 320 samples.
		if len(f.Data) != 320*2 {
			t.Errorf("frame %d size: got %d bytes, want %d", i, len(f.Data), 320*2)
		}
	}
}

func TestNormalize_MatchingFormatPassesThrough(t *testing.T) {
	t.Parallel()

	target := audio.Format{SampleRate: 16000, Channels: 1}
	inner := &capmock.Source{}
	src := capture.Normalize(inner, target)

	frames, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	data := []byte{0x01, 0x02, 0x03, 0x04}
	inner.Emit(audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1})
	inner.EndStream()

	f, ok := <-frames
	if !ok {
		t.Fatal("stream closed before delivering the frame")
	}
	if !bytes.Equal(f.Data, data) {
		t.Errorf("frame data: got %v, want %v", f.Data, data)
	}
	if _, ok := <-frames; ok {
		t.Error("stream should close after the wrapped channel closes")
	}
}

func TestNormalize_DelegatesOpenErrorAndClose(t *testing.T) {
	t.Parallel()

	inner := &capmock.Source{OpenError: capture.ErrPermissionDenied}
	src := capture.Normalize(inner, audio.Format{SampleRate: 16000, Channels: 1})

	if _, err := src.Open(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("open error: got %v, want ErrPermissionDenied", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if inner.CallCountClose != 1 {
		t.Errorf("wrapped close calls: got %d, want 1", inner.CallCountClose)
	}
}
