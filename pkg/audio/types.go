// Package audio defines the PCM frame and utterance types shared across
// capture, voice activity detection, and the processing pipeline, plus the
// sample math (energy, resampling, WAV encoding) that operates on them.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport: captured from an
// input source, classified by the voice activity detector, and accumulated
// into utterances.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g. 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame derived from its sample count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is a contiguous run of captured frames making up one user turn.
// Frames keep capture order; the zero value is an empty utterance ready for
// appending.
type Utterance struct {
	Frames []AudioFrame
}

// Append adds a frame to the end of the utterance.
func (u *Utterance) Append(frame AudioFrame) {
	u.Frames = append(u.Frames, frame)
}

// Len returns the number of accumulated frames.
func (u *Utterance) Len() int { return len(u.Frames) }

// SampleRate returns the sample rate of the first frame, or 0 when empty.
func (u *Utterance) SampleRate() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].SampleRate
}

// Channels returns the channel count of the first frame, or 0 when empty.
func (u *Utterance) Channels() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].Channels
}

// PCM joins all frame data into a single contiguous PCM buffer.
func (u *Utterance) PCM() []byte {
	var total int
	for _, f := range u.Frames {
		total += len(f.Data)
	}
	out := make([]byte, 0, total)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Duration returns the summed play time of all frames.
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}
