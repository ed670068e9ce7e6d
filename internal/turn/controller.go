// Package turn implements the conversation turn-taking state machine.
//
// A Controller owns the capture source and voice activity detector, submits
// exactly one utterance at a time to the reply pipeline, plays the reply, and
// re-arms listening only after playback has ended so the agent never processes
// its own voice as user speech.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jabber-ai/jabber/internal/observe"
	"github.com/jabber-ai/jabber/internal/pipeline"
	"github.com/jabber-ai/jabber/internal/playback"
	"github.com/jabber-ai/jabber/internal/vad"
	"github.com/jabber-ai/jabber/pkg/audio"
	"github.com/jabber-ai/jabber/pkg/capture"
)

// State is the controller's current phase.
type State string

// Controller states. Idle is both the initial state and the only state
// reachable by an explicit stop.
const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateCapturing  State = "capturing"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

// ErrAlreadyStarted is returned by Start when a session is already running.
var ErrAlreadyStarted = errors.New("turn: session already started")

// Turn summarises one completed exchange: what was heard, what was answered,
// and how long the reply took to produce.
type Turn struct {
	TranscriptText string
	ReplyText      string
	AudioURL       string
	Elapsed        time.Duration
}

// Controller is the turn-taking state machine. Construct with [NewController],
// then drive it with Start and Stop. All exported methods are safe for
// concurrent use.
type Controller struct {
	source  capture.Source
	pipe    pipeline.Pipeline
	player  playback.Player
	metrics *observe.Metrics

	detector *vad.Detector
	history  *History

	echoGuard     bool
	echoThreshold float64
	onAmplitude   func(level float64)
	detectorOpts  []vad.Option

	mu           sync.Mutex
	state        State
	starting     bool
	gen          uint64
	systemPrompt string
	lastErr      error
	lastTurn     *Turn
	sessionCtx   context.Context
	cancel       context.CancelFunc
	frameDone    chan struct{}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithSystemPrompt sets the initial system prompt for the session.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) {
		c.systemPrompt = prompt
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithEchoGuard enables discarding of turns whose transcript closely matches
// the agent's previous reply. threshold is the Jaro-Winkler similarity above
// which a transcript counts as an echo; pass 0 for the default of 0.92.
func WithEchoGuard(threshold float64) Option {
	return func(c *Controller) {
		c.echoGuard = true
		if threshold > 0 {
			c.echoThreshold = threshold
		}
	}
}

// WithDetectorOptions forwards extra options to the voice activity detector,
// e.g. a custom threshold or quiet period from configuration.
func WithDetectorOptions(opts ...vad.Option) Option {
	return func(c *Controller) {
		c.detectorOpts = append(c.detectorOpts, opts...)
	}
}

// OnAmplitude registers an observer for per-frame signal levels, e.g. a level
// meter. Called for every frame, including while the detector is disarmed.
func OnAmplitude(fn func(level float64)) Option {
	return func(c *Controller) {
		c.onAmplitude = fn
	}
}

// NewController wires a controller over its collaborators. The capture source
// and detector are exclusively owned by the controller; nothing else may
// start or stop them.
func NewController(source capture.Source, pipe pipeline.Pipeline, player playback.Player, opts ...Option) *Controller {
	c := &Controller{
		source:        source,
		pipe:          pipe,
		player:        player,
		history:       NewHistory(),
		echoThreshold: defaultEchoSimilarity,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	detectorOpts := append([]vad.Option{
		vad.OnSpeechStart(c.handleSpeechStart),
		vad.OnUtterance(c.handleUtterance),
		vad.OnDiscard(c.handleDiscard),
	}, c.detectorOpts...)
	if c.onAmplitude != nil {
		detectorOpts = append(detectorOpts, vad.OnAmplitude(c.onAmplitude))
	}
	c.detector = vad.New(detectorOpts...)

	return c
}

// Start acquires the capture source and begins listening. A permission
// failure from the source is fatal to this start attempt only: the controller
// stays Idle and the error is retained as the session error. Any previously
// retained error is cleared when a new start is requested.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.lastErr = nil
	c.mu.Unlock()

	frames, err := c.source.Open(ctx)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.lastErr = err
		c.mu.Unlock()
		if errors.Is(err, capture.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("turn: open capture source: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.starting = false
	c.state = StateListening
	c.gen++
	c.sessionCtx = sessionCtx
	c.cancel = cancel
	c.frameDone = make(chan struct{})
	frameDone := c.frameDone
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(sessionCtx, 1)
	c.detector.Reset()
	c.detector.Arm()

	go c.frameLoop(sessionCtx, frames, frameDone)

	observe.Logger(sessionCtx).Info("session started")
	return nil
}

// Stop tears the session down: the detector is disarmed, the capture source
// released, playback halted, and any in-flight pipeline result discarded when
// it eventually resolves. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.detector.Disarm()
	if cancel != nil {
		cancel()
	}
	if err := c.source.Close(); err != nil {
		observe.Logger(context.Background()).Warn("close capture source", "error", err)
	}
	c.player.Stop()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the most recent session error, or nil. Only the latest error is
// retained; it is cleared on the next Start.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// History returns the conversation history.
func (c *Controller) History() *History {
	return c.history
}

// LastTurn returns the most recently completed turn. ok is false before the
// first successful turn of the process.
func (c *Controller) LastTurn() (turn Turn, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTurn == nil {
		return Turn{}, false
	}
	return *c.lastTurn, true
}

// SetSystemPrompt changes the conversation's system prompt. Changing the
// prompt clears the history, since prior replies were produced under a
// different persona. Setting the same prompt is a no-op.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	changed := prompt != c.systemPrompt
	c.systemPrompt = prompt
	c.mu.Unlock()

	if changed {
		c.history.Clear()
	}
}

// SystemPrompt returns the current system prompt.
func (c *Controller) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// frameLoop feeds captured frames into the detector until the source channel
// closes or the session is cancelled.
func (c *Controller) frameLoop(ctx context.Context, frames <-chan audio.AudioFrame, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			c.detector.ProcessFrame(frame)
		}
	}
}

// handleSpeechStart transitions Listening -> Capturing.
func (c *Controller) handleSpeechStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateListening {
		c.state = StateCapturing
	}
}

// handleDiscard counts utterances the detector dropped before submission.
func (c *Controller) handleDiscard(reason vad.DiscardReason) {
	c.metrics.RecordDiscard(context.Background(), string(reason))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCapturing {
		c.state = StateListening
	}
}

// handleUtterance submits one completed utterance to the pipeline. The
// detector is disarmed for the whole Processing and Speaking span so the
// agent cannot capture its own reply.
func (c *Controller) handleUtterance(u audio.Utterance) {
	c.mu.Lock()
	if c.state != StateCapturing && c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateProcessing
	gen := c.gen
	prompt := c.systemPrompt
	sessionCtx := c.sessionCtx
	c.mu.Unlock()

	c.detector.Disarm()

	wav, err := audio.EncodeWAV(u.PCM(), u.SampleRate(), u.Channels())
	if err != nil {
		c.finishTurn(gen, pipeline.Result{}, fmt.Errorf("turn: encode utterance: %w", err))
		return
	}

	req := pipeline.Request{
		WAV:          wav,
		SystemPrompt: prompt,
		History:      c.history.Snapshot(),
	}

	// The session context carries the turn so Stop's cancel aborts in-flight
	// provider calls; a late result is still discarded by the stale guard.
	go func() {
		res, err := c.pipe.Process(sessionCtx, req)
		c.finishTurn(gen, res, err)
	}()
}

// finishTurn handles a resolved pipeline run. A result from a generation that
// has since been stopped or restarted is stale and discarded without any
// state change.
func (c *Controller) finishTurn(gen uint64, res pipeline.Result, err error) {
	ctx := context.Background()

	c.mu.Lock()
	if c.gen != gen || c.state != StateProcessing {
		c.mu.Unlock()
		c.metrics.RecordTurn(ctx, "stale")
		return
	}

	if err != nil {
		c.lastErr = err
		c.state = StateListening
		c.mu.Unlock()

		c.metrics.RecordTurn(ctx, "error")
		observe.Logger(ctx).Error("turn failed", "error", err)
		c.detector.Arm()
		return
	}

	if c.echoGuard && isEcho(res.TranscriptText, c.history.Last(), c.echoThreshold) {
		c.state = StateListening
		c.mu.Unlock()

		c.metrics.RecordDiscard(ctx, "echo")
		observe.Logger(ctx).Info("discarded echo of previous reply",
			"transcript", res.TranscriptText)
		c.detector.Arm()
		return
	}

	c.state = StateSpeaking
	c.lastTurn = &Turn{
		TranscriptText: res.TranscriptText,
		ReplyText:      res.ReplyText,
		AudioURL:       res.AudioURL,
		Elapsed:        res.Elapsed,
	}
	c.mu.Unlock()

	c.history.Append(res.ReplyText)
	c.metrics.RecordTurn(ctx, "ok")
	observe.Logger(ctx).Info("turn completed",
		"transcript", res.TranscriptText,
		"reply", res.ReplyText,
		"elapsed", res.Elapsed,
	)

	c.startPlayback(gen, res)
}

// startPlayback plays the reply clip. A start failure is recoverable: the
// turn is over and the controller returns to Listening rather than
// deadlocking in Speaking.
func (c *Controller) startPlayback(gen uint64, res pipeline.Result) {
	err := c.player.Play(context.Background(), res.Audio, res.AudioMIMEType, func(error) {
		c.handlePlaybackEnded(gen)
	})
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.gen == gen && c.state == StateSpeaking {
		c.lastErr = fmt.Errorf("turn: start playback: %w", err)
		c.state = StateListening
		c.mu.Unlock()
		c.detector.Arm()
		return
	}
	c.mu.Unlock()
}

// handlePlaybackEnded re-arms listening. Playback completion is the sole
// trigger for the Speaking -> Listening transition.
func (c *Controller) handlePlaybackEnded(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	c.mu.Unlock()

	c.detector.Reset()
	c.detector.Arm()
}
