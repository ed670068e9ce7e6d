// Package pipeline turns a captured utterance into a stored, playable reply.
//
// The pipeline runs four stages strictly in order: transcription, completion,
// synthesis, storage. A failure in any stage aborts the run and nothing is
// persisted, so a turn either yields a complete [Result] or a [StageError].
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jabber-ai/jabber/internal/observe"
	"github.com/jabber-ai/jabber/internal/store"
	"github.com/jabber-ai/jabber/pkg/provider/llm"
	"github.com/jabber-ai/jabber/pkg/provider/stt"
	"github.com/jabber-ai/jabber/pkg/provider/tts"
)

// ErrEmptyTranscript is returned when transcription succeeds but yields no
// usable text, e.g. for a breath or background noise that slipped past the
// detector.
var ErrEmptyTranscript = errors.New("pipeline: transcript is empty")

// Request is one utterance to process, together with the conversational
// context the completion stage needs.
type Request struct {
	// WAV is the complete utterance as encoded WAV audio.
	WAV []byte

	// SystemPrompt steers the completion stage. May be empty.
	SystemPrompt string

	// History holds the texts of previous replies, oldest first. At most the
	// last few replies are carried; see the turn controller's history cap.
	History []string
}

// Result is the outcome of a successful pipeline run.
type Result struct {
	// TranscriptText is what the speaker said.
	TranscriptText string

	// ReplyText is the generated reply.
	ReplyText string

	// AudioURL points at the stored reply clip.
	AudioURL string

	// Audio is the reply clip itself, ready for local playback.
	Audio []byte

	// AudioMIMEType describes the encoding of Audio.
	AudioMIMEType string

	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration
}

// Pipeline converts one utterance into a reply. Implementations must be safe
// for concurrent use, though the turn controller only ever keeps one run in
// flight.
type Pipeline interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// Compile-time interface check.
var _ Pipeline = (*Local)(nil)

// Local runs all four stages in-process against the configured providers.
type Local struct {
	stt     stt.Provider
	llm     llm.Provider
	tts     tts.Provider
	store   store.Store
	baseURL string
	voice   string
	metrics *observe.Metrics
	now     func() time.Time
}

// LocalOption configures a [Local] pipeline.
type LocalOption func(*Local)

// WithVoice sets the synthesis voice passed to the TTS provider.
func WithVoice(voice string) LocalOption {
	return func(p *Local) {
		p.voice = voice
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LocalOption {
	return func(p *Local) {
		p.metrics = m
	}
}

// NewLocal creates a pipeline over the given providers. baseURL is the
// externally reachable prefix for stored clips; the resulting AudioURL is
// baseURL + "/audio/" + clipID.
func NewLocal(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, st store.Store, baseURL string, opts ...LocalOption) *Local {
	p := &Local{
		stt:     sttP,
		llm:     llmP,
		tts:     ttsP,
		store:   st,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Process implements [Pipeline]. Stages run strictly in order and the first
// failure aborts the run with a [StageError] naming the stage.
func (p *Local) Process(ctx context.Context, req Request) (Result, error) {
	start := p.now()

	ctx, span := observe.StartSpan(ctx, "pipeline.Process")
	defer span.End()

	transcript, err := p.transcribe(ctx, req.WAV)
	if err != nil {
		return Result{}, p.fail(ctx, span, StageTranscription, err)
	}

	reply, err := p.complete(ctx, transcript, req.SystemPrompt, req.History)
	if err != nil {
		return Result{}, p.fail(ctx, span, StageCompletion, err)
	}

	clip, err := p.synthesize(ctx, reply)
	if err != nil {
		return Result{}, p.fail(ctx, span, StageSynthesis, err)
	}

	clipID, err := p.persist(ctx, clip)
	if err != nil {
		return Result{}, p.fail(ctx, span, StageStorage, err)
	}

	elapsed := p.now().Sub(start)
	p.metrics.TurnDuration.Record(ctx, elapsed.Seconds())

	return Result{
		TranscriptText: transcript,
		ReplyText:      reply,
		AudioURL:       p.baseURL + "/audio/" + clipID,
		Audio:          clip.Audio,
		AudioMIMEType:  clip.MIMEType,
		Elapsed:        elapsed,
	}, nil
}

func (p *Local) transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	t0 := p.now()
	res, err := p.stt.Transcribe(ctx, stt.Request{WAV: wav})
	p.metrics.STTDuration.Record(ctx, p.now().Sub(t0).Seconds())
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func (p *Local) complete(ctx context.Context, transcript, systemPrompt string, history []string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.complete")
	defer span.End()

	messages := make([]llm.Message, 0, len(history)+1)
	for _, reply := range history {
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})

	t0 := p.now()
	resp, err := p.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	})
	p.metrics.LLMDuration.Record(ctx, p.now().Sub(t0).Seconds())
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("completion returned empty reply")
	}
	return resp.Content, nil
}

func (p *Local) synthesize(ctx context.Context, replyText string) (tts.Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize")
	defer span.End()

	t0 := p.now()
	res, err := p.tts.Synthesize(ctx, tts.Request{Text: replyText, Voice: p.voice})
	p.metrics.TTSDuration.Record(ctx, p.now().Sub(t0).Seconds())
	return res, err
}

func (p *Local) persist(ctx context.Context, clip tts.Result) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.persist")
	defer span.End()

	t0 := p.now()
	id, err := p.store.Put(ctx, clip.Audio, clip.MIMEType)
	p.metrics.StoreDuration.Record(ctx, p.now().Sub(t0).Seconds())
	return id, err
}

// fail records the stage failure and returns the tagged error.
func (p *Local) fail(ctx context.Context, span trace.Span, stage Stage, err error) error {
	tagged := stageErr(stage, err)
	span.RecordError(tagged)
	p.metrics.RecordPipelineError(ctx, string(stage))
	observe.Logger(ctx).Error("pipeline stage failed",
		"stage", string(stage),
		"error", err,
	)
	return tagged
}
