// Package vad implements energy-threshold voice activity detection over a
// stream of PCM frames.
//
// The detector is armed and disarmed by the turn controller. While armed it
// classifies each frame against a dBFS energy threshold, starts an utterance
// segment on the first voiced frame, and ends the segment once the
// accumulated silence after the last voiced frame reaches the configured
// quiet period. Segments shorter than the minimum speech duration are
// discarded instead of emitted, which filters out coughs and desk bumps.
//
// All detection state is driven synchronously by ProcessFrame; callbacks fire
// on the calling goroutine after internal state has been updated.
package vad

import (
	"sync"
	"time"

	"github.com/jabber-ai/jabber/pkg/audio"
)

// Defaults chosen for push-to-talk style conversation: a long quiet period so
// natural pauses do not cut the speaker off.
const (
	DefaultThresholdDB = -40.0
	DefaultQuietPeriod = 3000 * time.Millisecond
	DefaultMinSpeech   = 200 * time.Millisecond
)

// DiscardReason explains why a detected segment was dropped without being
// emitted as an utterance.
type DiscardReason string

const (
	// DiscardTooShort marks a segment whose voiced duration stayed under the
	// minimum speech duration.
	DiscardTooShort DiscardReason = "too_short"

	// DiscardDisarmed marks a segment dropped because the detector was
	// disarmed or reset mid-capture.
	DiscardDisarmed DiscardReason = "disarmed"
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithThresholdDB sets the energy threshold in dBFS above which a frame
// counts as voiced. Defaults to -40 dBFS.
func WithThresholdDB(db float64) Option {
	return func(d *Detector) { d.thresholdDB = db }
}

// WithQuietPeriod sets how much consecutive silence after the last voiced
// frame ends the utterance. Defaults to 3000 ms.
func WithQuietPeriod(p time.Duration) Option {
	return func(d *Detector) {
		if p > 0 {
			d.quietPeriod = p
		}
	}
}

// WithMinSpeech sets the minimum voiced duration a segment needs to be
// emitted rather than discarded. Defaults to 200 ms.
func WithMinSpeech(min time.Duration) Option {
	return func(d *Detector) {
		if min >= 0 {
			d.minSpeech = min
		}
	}
}

// OnSpeechStart registers fn to run when the first voiced frame of a new
// segment is seen.
func OnSpeechStart(fn func()) Option {
	return func(d *Detector) { d.onSpeechStart = fn }
}

// OnUtterance registers fn to receive each completed utterance.
func OnUtterance(fn func(u audio.Utterance)) Option {
	return func(d *Detector) { d.onUtterance = fn }
}

// OnDiscard registers fn to run when a segment is dropped.
func OnDiscard(fn func(reason DiscardReason)) Option {
	return func(d *Detector) { d.onDiscard = fn }
}

// OnAmplitude registers fn to receive the mean amplitude of every processed
// frame, armed or not. Level meters hang off this hook; it never affects
// detection state.
func OnAmplitude(fn func(level float64)) Option {
	return func(d *Detector) { d.onAmplitude = fn }
}

// Detector is an energy-threshold voice activity detector. The zero value is
// not usable; create one with New. A Detector starts disarmed.
type Detector struct {
	thresholdDB float64
	quietPeriod time.Duration
	minSpeech   time.Duration

	onSpeechStart func()
	onUtterance   func(audio.Utterance)
	onDiscard     func(DiscardReason)
	onAmplitude   func(float64)

	mu        sync.Mutex
	armed     bool
	segment   audio.Utterance
	voiced    time.Duration // accumulated voiced frame time in this segment
	silence   time.Duration // consecutive silence since the last voiced frame
	inSpeech  bool
}

// New creates a Detector with the given options applied over the defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		thresholdDB: DefaultThresholdDB,
		quietPeriod: DefaultQuietPeriod,
		minSpeech:   DefaultMinSpeech,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Arm enables detection. Arming an already armed detector is a no-op; it
// does not disturb a segment in progress.
func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
}

// Disarm pauses detection. Any segment in progress is dropped; calibration
// settings are untouched. Disarming an already disarmed detector is a no-op.
func (d *Detector) Disarm() {
	d.mu.Lock()
	hadSegment := d.inSpeech
	d.armed = false
	d.clearSegmentLocked()
	discard := d.onDiscard
	d.mu.Unlock()

	if hadSegment && discard != nil {
		discard(DiscardDisarmed)
	}
}

// Armed reports whether the detector is currently armed.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Reset drops any segment in progress without changing the armed state or
// calibration.
func (d *Detector) Reset() {
	d.mu.Lock()
	hadSegment := d.inSpeech
	d.clearSegmentLocked()
	discard := d.onDiscard
	d.mu.Unlock()

	if hadSegment && discard != nil {
		discard(DiscardDisarmed)
	}
}

func (d *Detector) clearSegmentLocked() {
	d.segment = audio.Utterance{}
	d.voiced = 0
	d.silence = 0
	d.inSpeech = false
}

// ProcessFrame feeds one captured frame through the detector. Frames are
// expected in capture order from a single goroutine.
func (d *Detector) ProcessFrame(frame audio.AudioFrame) {
	if d.onAmplitude != nil {
		d.onAmplitude(audio.MeanAmplitude(frame.Data))
	}

	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}

	voiced := audio.DBFS(frame.Data) >= d.thresholdDB
	frameDur := frame.Duration()

	var (
		speechStarted bool
		emit          *audio.Utterance
		discard       DiscardReason
	)

	switch {
	case voiced:
		if !d.inSpeech {
			d.inSpeech = true
			speechStarted = true
		}
		// A voiced frame always restarts the quiet period.
		d.silence = 0
		d.voiced += frameDur
		d.segment.Append(frame)

	case d.inSpeech:
		// Silence only matters once a voiced frame has armed the timer.
		d.silence += frameDur
		d.segment.Append(frame)
		if d.silence >= d.quietPeriod {
			if d.voiced >= d.minSpeech {
				u := d.segment
				emit = &u
			} else {
				discard = DiscardTooShort
			}
			d.clearSegmentLocked()
		}

		// Leading silence before any speech is ignored entirely; the quiet
		// period can never elapse without at least one voiced frame.
	}

	onStart, onUtterance, onDiscard := d.onSpeechStart, d.onUtterance, d.onDiscard
	d.mu.Unlock()

	if speechStarted && onStart != nil {
		onStart()
	}
	if emit != nil && onUtterance != nil {
		onUtterance(*emit)
	}
	if discard != "" && onDiscard != nil {
		onDiscard(discard)
	}
}
