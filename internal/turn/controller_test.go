package turn_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jabber-ai/jabber/internal/pipeline"
	pipemock "github.com/jabber-ai/jabber/internal/pipeline/mock"
	playmock "github.com/jabber-ai/jabber/internal/playback/mock"
	"github.com/jabber-ai/jabber/internal/turn"
	"github.com/jabber-ai/jabber/internal/vad"
	"github.com/jabber-ai/jabber/pkg/audio"
	"github.com/jabber-ai/jabber/pkg/capture"
	capmock "github.com/jabber-ai/jabber/pkg/capture/mock"
)

const (
	testRate   = 16000
	frameBytes = testRate * 2 * 20 / 1000 // 20ms mono frames
)

func voicedFrame() audio.AudioFrame {
	data := make([]byte, frameBytes)
	for i := 0; i < len(data); i += 2 {
		data[i+1] = 0x40
	}
	return audio.AudioFrame{Data: data, SampleRate: testRate, Channels: 1}
}

func silentFrame() audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, frameBytes), SampleRate: testRate, Channels: 1}
}

// fixture bundles a controller with its mock collaborators, using short
// detector windows so tests run fast.
type fixture struct {
	source *capmock.Source
	pipe   *pipemock.Pipeline
	player *playmock.Player
	ctrl   *turn.Controller
}

func newFixture(opts ...turn.Option) *fixture {
	f := &fixture{
		source: &capmock.Source{},
		pipe:   &pipemock.Pipeline{},
		player: &playmock.Player{},
	}
	opts = append([]turn.Option{
		turn.WithDetectorOptions(
			vad.WithQuietPeriod(60*time.Millisecond),
			vad.WithMinSpeech(40*time.Millisecond),
		),
	}, opts...)
	f.ctrl = turn.NewController(f.source, f.pipe, f.player, opts...)
	return f
}

// speak pushes a full utterance (voiced then quiet) through the source.
func (f *fixture) speak() {
	for range 5 {
		f.source.Emit(voicedFrame())
	}
	for range 4 {
		f.source.Emit(silentFrame())
	}
}

func waitForState(t *testing.T, c *turn.Controller, want turn.State) {
	t.Helper()
	waitFor(t, func() bool { return c.State() == want },
		fmt.Sprintf("state never reached %q", want))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestController_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture()

	if got := f.ctrl.State(); got != turn.StateIdle {
		t.Fatalf("initial state: got %q, want idle", got)
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.ctrl.State(); got != turn.StateListening {
		t.Errorf("state after start: got %q, want listening", got)
	}
	if f.source.CallCountOpen != 1 {
		t.Errorf("source opens: got %d, want 1", f.source.CallCountOpen)
	}

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, turn.ErrAlreadyStarted) {
		t.Errorf("second Start: got %v, want ErrAlreadyStarted", err)
	}

	f.ctrl.Stop()
	if got := f.ctrl.State(); got != turn.StateIdle {
		t.Errorf("state after stop: got %q, want idle", got)
	}
	if f.source.CallCountClose != 1 {
		t.Errorf("source closes: got %d, want 1", f.source.CallCountClose)
	}

	// Stop is idempotent.
	f.ctrl.Stop()
	if f.source.CallCountClose != 1 {
		t.Errorf("source closes after second stop: got %d, want 1", f.source.CallCountClose)
	}
}

func TestController_PermissionDeniedStaysIdle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.source.OpenError = capture.ErrPermissionDenied

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start: got %v, want ErrPermissionDenied", err)
	}
	if got := f.ctrl.State(); got != turn.StateIdle {
		t.Errorf("state: got %q, want idle", got)
	}
	if !errors.Is(f.ctrl.Err(), capture.ErrPermissionDenied) {
		t.Errorf("retained error: got %v", f.ctrl.Err())
	}

	// A later start attempt succeeds once permission is granted, and the
	// retained error is cleared.
	f.source.OpenError = nil
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start after grant: %v", err)
	}
	defer f.ctrl.Stop()
	if f.ctrl.Err() != nil {
		t.Errorf("error not cleared on new start: %v", f.ctrl.Err())
	}
}

func TestController_FullTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(turn.WithSystemPrompt("be nice"))
	f.pipe.ProcessResult = pipeline.Result{
		TranscriptText: "hello",
		ReplyText:      "hi there",
		AudioURL:       "http://localhost/audio/u1",
		Audio:          []byte("RIFFclip"),
		AudioMIMEType:  "audio/wav",
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.ctrl.Stop()

	f.speak()
	waitForState(t, f.ctrl, turn.StateSpeaking)

	if got := f.pipe.CallCount(); got != 1 {
		t.Fatalf("pipeline calls: got %d, want 1", got)
	}
	req := f.pipe.ProcessCalls[0].Req
	if req.SystemPrompt != "be nice" {
		t.Errorf("system prompt: got %q", req.SystemPrompt)
	}
	if len(req.WAV) == 0 {
		t.Error("utterance WAV is empty")
	}
	if len(req.History) != 0 {
		t.Errorf("history on first turn: got %v, want empty", req.History)
	}

	if got := f.ctrl.History().Snapshot(); len(got) != 1 || got[0] != "hi there" {
		t.Errorf("history: got %v, want [hi there]", got)
	}
	if got := f.player.CallCount(); got != 1 {
		t.Fatalf("play calls: got %d, want 1", got)
	}
	if got := f.player.PlayCalls[0].MIMEType; got != "audio/wav" {
		t.Errorf("played MIME type: got %q", got)
	}
	last, ok := f.ctrl.LastTurn()
	if !ok {
		t.Fatal("LastTurn: no turn recorded")
	}
	if last.TranscriptText != "hello" || last.ReplyText != "hi there" {
		t.Errorf("last turn: got %+v", last)
	}

	// Playback completion is the sole re-arm trigger.
	f.player.Finish(nil)
	waitForState(t, f.ctrl, turn.StateListening)

	// The next utterance carries the reply as history.
	f.speak()
	waitForState(t, f.ctrl, turn.StateSpeaking)
	if got := f.pipe.ProcessCalls[1].Req.History; len(got) != 1 || got[0] != "hi there" {
		t.Errorf("second turn history: got %v, want [hi there]", got)
	}
}

func TestController_PipelineFailureReturnsToListening(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipe.ProcessErr = &pipeline.StageError{
		Stage: pipeline.StageTranscription,
		Err:   errors.New("garbled audio"),
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.ctrl.Stop()

	f.speak()
	waitFor(t, func() bool {
		return f.pipe.CallCount() == 1 && f.ctrl.State() == turn.StateListening
	}, "pipeline failure never resolved back to listening")

	var se *pipeline.StageError
	if !errors.As(f.ctrl.Err(), &se) || se.Stage != pipeline.StageTranscription {
		t.Errorf("retained error: got %v, want transcription StageError", f.ctrl.Err())
	}
	if got := f.ctrl.History().Len(); got != 0 {
		t.Errorf("history after failure: got %d entries, want 0", got)
	}
	if got := f.player.CallCount(); got != 0 {
		t.Errorf("play calls after failure: got %d, want 0 (never reached speaking)", got)
	}

	// The controller must accept a new utterance after the failure.
	f.pipe.ProcessErr = nil
	f.pipe.ProcessResult = pipeline.Result{ReplyText: "ok", AudioMIMEType: "audio/wav"}
	f.speak()
	waitForState(t, f.ctrl, turn.StateSpeaking)
}

func TestController_StopDuringProcessingDiscardsResult(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipe.Block = true
	f.pipe.ProcessResult = pipeline.Result{ReplyText: "late", AudioMIMEType: "audio/wav"}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.speak()
	waitForState(t, f.ctrl, turn.StateProcessing)

	// Stop must not wait for the in-flight run.
	f.ctrl.Stop()
	if got := f.ctrl.State(); got != turn.StateIdle {
		t.Fatalf("state after stop: got %q, want idle", got)
	}

	// The run resolves after the session ended; its result is stale.
	if !f.pipe.Resolve() {
		t.Fatal("no parked pipeline run to resolve")
	}
	time.Sleep(50 * time.Millisecond)

	if got := f.ctrl.State(); got != turn.StateIdle {
		t.Errorf("state after stale result: got %q, want idle", got)
	}
	if got := f.ctrl.History().Len(); got != 0 {
		t.Errorf("history after stale result: got %d entries, want 0", got)
	}
	if got := f.player.CallCount(); got != 0 {
		t.Errorf("play calls after stale result: got %d, want 0", got)
	}
}

func TestController_StopCancelsInFlightPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipe.Block = true

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.speak()
	waitFor(t, func() bool { return f.pipe.CallCount() == 1 },
		"pipeline never invoked")

	runCtx := f.pipe.ProcessCalls[0].Ctx
	if err := runCtx.Err(); err != nil {
		t.Fatalf("run context cancelled before stop: %v", err)
	}

	// Stop aborts the in-flight run via context cancellation.
	f.ctrl.Stop()
	if !errors.Is(runCtx.Err(), context.Canceled) {
		t.Errorf("run context after stop: got %v, want context.Canceled", runCtx.Err())
	}

	if !f.pipe.Resolve() {
		t.Fatal("no parked pipeline run to resolve")
	}
}

// blockingSource parks Open until released so tests can hold a start attempt
// mid-flight.
type blockingSource struct {
	release chan struct{}

	mu    sync.Mutex
	opens int
}

func (s *blockingSource) Open(_ context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	<-s.release
	return make(chan audio.AudioFrame), nil
}

func (s *blockingSource) Close() error { return nil }

func (s *blockingSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func TestController_ConcurrentStartOpensSourceOnce(t *testing.T) {
	t.Parallel()

	src := &blockingSource{release: make(chan struct{})}
	ctrl := turn.NewController(src, &pipemock.Pipeline{}, &playmock.Player{})

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- ctrl.Start(context.Background())
	}()
	waitFor(t, func() bool { return src.openCount() == 1 },
		"first Start never reached the source")

	// A second Start while the first is still opening the source must be
	// rejected, not open the source again.
	if err := ctrl.Start(context.Background()); !errors.Is(err, turn.ErrAlreadyStarted) {
		t.Errorf("concurrent Start: got %v, want ErrAlreadyStarted", err)
	}

	close(src.release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer ctrl.Stop()

	if got := src.openCount(); got != 1 {
		t.Errorf("source opens: got %d, want 1", got)
	}
}

func TestController_AtMostOneInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipe.Block = true

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.ctrl.Stop()

	f.speak()
	waitForState(t, f.ctrl, turn.StateProcessing)

	// More speech while processing: the detector is disarmed, so nothing may
	// reach the pipeline.
	f.speak()
	time.Sleep(100 * time.Millisecond)

	if got := f.pipe.CallCount(); got != 1 {
		t.Errorf("pipeline calls: got %d, want 1", got)
	}
}

func TestController_PlaybackStartFailureRecovers(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.pipe.ProcessResult = pipeline.Result{ReplyText: "hi", AudioMIMEType: "audio/wav"}
	f.player.PlayErr = errors.New("output device unavailable")

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.ctrl.Stop()

	f.speak()
	waitFor(t, func() bool {
		return f.player.CallCount() == 1 && f.ctrl.State() == turn.StateListening
	}, "playback start failure never resolved back to listening")

	if f.ctrl.Err() == nil {
		t.Error("playback start failure not surfaced")
	}
	// The turn itself completed, so the reply stays in history.
	if got := f.ctrl.History().Len(); got != 1 {
		t.Errorf("history: got %d entries, want 1", got)
	}
}

func TestController_SetSystemPromptClearsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(turn.WithSystemPrompt("persona a"))
	f.ctrl.History().Append("old reply")

	// Same prompt: no-op.
	f.ctrl.SetSystemPrompt("persona a")
	if got := f.ctrl.History().Len(); got != 1 {
		t.Errorf("history after same prompt: got %d, want 1", got)
	}

	f.ctrl.SetSystemPrompt("persona b")
	if got := f.ctrl.History().Len(); got != 0 {
		t.Errorf("history after prompt change: got %d, want 0", got)
	}
	if got := f.ctrl.SystemPrompt(); got != "persona b" {
		t.Errorf("system prompt: got %q", got)
	}
}

func TestController_EchoGuardDiscardsOwnReply(t *testing.T) {
	t.Parallel()

	f := newFixture(turn.WithEchoGuard(0))
	f.ctrl.History().Append("the weather is lovely today")
	f.pipe.ProcessResult = pipeline.Result{
		TranscriptText: "the weather is lovely today",
		ReplyText:      "glad you agree",
		AudioMIMEType:  "audio/wav",
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.ctrl.Stop()

	f.speak()
	waitFor(t, func() bool {
		return f.pipe.CallCount() == 1 && f.ctrl.State() == turn.StateListening
	}, "echo turn never resolved back to listening")

	if got := f.player.CallCount(); got != 0 {
		t.Errorf("play calls for echo: got %d, want 0", got)
	}
	if got := f.ctrl.History().Len(); got != 1 {
		t.Errorf("history after echo: got %d entries, want 1", got)
	}
}

func TestHistory_CapEvictsOldest(t *testing.T) {
	t.Parallel()

	h := turn.NewHistory()
	for i := 1; i <= 11; i++ {
		h.Append(fmt.Sprintf("reply %d", i))
	}

	got := h.Snapshot()
	if len(got) != 10 {
		t.Fatalf("history length: got %d, want 10", len(got))
	}
	if got[0] != "reply 2" {
		t.Errorf("oldest entry: got %q, want %q", got[0], "reply 2")
	}
	if got[9] != "reply 11" {
		t.Errorf("newest entry: got %q, want %q", got[9], "reply 11")
	}
}
