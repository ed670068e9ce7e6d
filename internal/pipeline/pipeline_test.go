package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jabber-ai/jabber/internal/pipeline"
	"github.com/jabber-ai/jabber/internal/store"
	"github.com/jabber-ai/jabber/pkg/provider/llm"
	llmmock "github.com/jabber-ai/jabber/pkg/provider/llm/mock"
	"github.com/jabber-ai/jabber/pkg/provider/stt"
	sttmock "github.com/jabber-ai/jabber/pkg/provider/stt/mock"
	"github.com/jabber-ai/jabber/pkg/provider/tts"
	ttsmock "github.com/jabber-ai/jabber/pkg/provider/tts/mock"
)

func newFixtures() (*sttmock.Provider, *llmmock.Provider, *ttsmock.Provider, *store.MemoryStore) {
	sttP := &sttmock.Provider{TranscribeResult: stt.Result{Text: "hello there"}}
	llmP := &llmmock.Provider{CompleteResponse: &llm.Response{Content: "General Kenobi."}}
	ttsP := &ttsmock.Provider{SynthesizeResult: tts.Result{Audio: []byte("RIFFwav"), MIMEType: "audio/wav"}}
	return sttP, llmP, ttsP, store.NewMemoryStore()
}

func TestLocal_Process(t *testing.T) {
	t.Parallel()

	sttP, llmP, ttsP, st := newFixtures()
	p := pipeline.NewLocal(sttP, llmP, ttsP, st, "http://localhost:8080/")

	res, err := p.Process(context.Background(), pipeline.Request{
		WAV:          []byte("RIFFin"),
		SystemPrompt: "You are a droid.",
		History:      []string{"Beep.", "Boop."},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.TranscriptText != "hello there" {
		t.Errorf("transcript: got %q, want %q", res.TranscriptText, "hello there")
	}
	if res.ReplyText != "General Kenobi." {
		t.Errorf("reply: got %q, want %q", res.ReplyText, "General Kenobi.")
	}
	if !strings.HasPrefix(res.AudioURL, "http://localhost:8080/audio/") {
		t.Errorf("audio URL: got %q, want prefix %q", res.AudioURL, "http://localhost:8080/audio/")
	}

	// Clip must actually be retrievable from the store.
	id := strings.TrimPrefix(res.AudioURL, "http://localhost:8080/audio/")
	clip, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("stored clip: %v", err)
	}
	if string(clip.Audio) != "RIFFwav" {
		t.Errorf("stored audio: got %q, want %q", clip.Audio, "RIFFwav")
	}

	// Completion saw the system prompt, the history as prior assistant
	// replies, and the transcript as the final user message.
	if got := len(llmP.CompleteCalls); got != 1 {
		t.Fatalf("Complete calls: got %d, want 1", got)
	}
	req := llmP.CompleteCalls[0].Req
	if req.SystemPrompt != "You are a droid." {
		t.Errorf("system prompt: got %q", req.SystemPrompt)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages: got %d, want 3", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleAssistant || req.Messages[0].Content != "Beep." {
		t.Errorf("message 0: got %+v", req.Messages[0])
	}
	if req.Messages[2].Role != llm.RoleUser || req.Messages[2].Content != "hello there" {
		t.Errorf("message 2: got %+v", req.Messages[2])
	}
}

func TestLocal_StageErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name      string
		mutate    func(*sttmock.Provider, *llmmock.Provider, *ttsmock.Provider)
		wantStage pipeline.Stage
	}{
		{
			name: "transcription",
			mutate: func(s *sttmock.Provider, _ *llmmock.Provider, _ *ttsmock.Provider) {
				s.TranscribeErr = boom
			},
			wantStage: pipeline.StageTranscription,
		},
		{
			name: "completion",
			mutate: func(_ *sttmock.Provider, l *llmmock.Provider, _ *ttsmock.Provider) {
				l.CompleteErr = boom
			},
			wantStage: pipeline.StageCompletion,
		},
		{
			name: "synthesis",
			mutate: func(_ *sttmock.Provider, _ *llmmock.Provider, t *ttsmock.Provider) {
				t.SynthesizeErr = boom
			},
			wantStage: pipeline.StageSynthesis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sttP, llmP, ttsP, st := newFixtures()
			tt.mutate(sttP, llmP, ttsP)
			p := pipeline.NewLocal(sttP, llmP, ttsP, st, "http://localhost")

			_, err := p.Process(context.Background(), pipeline.Request{WAV: []byte("x")})

			var se *pipeline.StageError
			if !errors.As(err, &se) {
				t.Fatalf("error: got %v, want StageError", err)
			}
			if se.Stage != tt.wantStage {
				t.Errorf("stage: got %q, want %q", se.Stage, tt.wantStage)
			}
			if !errors.Is(err, boom) {
				t.Errorf("wrapped error lost: %v", err)
			}

			// All-or-nothing: a failed run must not leave a clip behind.
			if got := st.Len(); got != 0 {
				t.Errorf("stored clips after failure: got %d, want 0", got)
			}
		})
	}
}

func TestLocal_LaterStagesSkippedOnFailure(t *testing.T) {
	t.Parallel()

	sttP, llmP, ttsP, st := newFixtures()
	sttP.TranscribeErr = errors.New("no audio")
	p := pipeline.NewLocal(sttP, llmP, ttsP, st, "http://localhost")

	_, err := p.Process(context.Background(), pipeline.Request{WAV: []byte("x")})
	if err == nil {
		t.Fatal("Process succeeded with failing transcription")
	}

	if got := llmP.CallCount(); got != 0 {
		t.Errorf("Complete calls after transcription failure: got %d, want 0", got)
	}
	if got := ttsP.CallCount(); got != 0 {
		t.Errorf("Synthesize calls after transcription failure: got %d, want 0", got)
	}
}

func TestLocal_EmptyTranscript(t *testing.T) {
	t.Parallel()

	sttP, llmP, ttsP, st := newFixtures()
	sttP.TranscribeResult = stt.Result{Text: "   "}
	p := pipeline.NewLocal(sttP, llmP, ttsP, st, "http://localhost")

	_, err := p.Process(context.Background(), pipeline.Request{WAV: []byte("x")})

	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != pipeline.StageTranscription {
		t.Fatalf("error: got %v, want transcription StageError", err)
	}
	if !errors.Is(err, pipeline.ErrEmptyTranscript) {
		t.Errorf("error: got %v, want ErrEmptyTranscript", err)
	}
	if got := llmP.CallCount(); got != 0 {
		t.Errorf("Complete calls for empty transcript: got %d, want 0", got)
	}
}

func TestRemote_Process(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/speak", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("systemPrompt"); got != "be brief" {
			t.Errorf("systemPrompt: got %q, want %q", got, "be brief")
		}
		if got := r.MultipartForm.Value["history"]; len(got) != 2 {
			t.Errorf("history fields: got %d, want 2", len(got))
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("audio part: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audioUrl":"http://` + r.Host + `/audio/abc","replyText":"ok"}`))
	})
	mux.HandleFunc("GET /audio/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFclip"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := pipeline.NewRemote(srv.URL)
	res, err := p.Process(context.Background(), pipeline.Request{
		WAV:          []byte("RIFFin"),
		SystemPrompt: "be brief",
		History:      []string{"one", "two"},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.ReplyText != "ok" {
		t.Errorf("reply: got %q, want %q", res.ReplyText, "ok")
	}
	if !strings.HasSuffix(res.AudioURL, "/audio/abc") {
		t.Errorf("audio URL: got %q", res.AudioURL)
	}
	if string(res.Audio) != "RIFFclip" {
		t.Errorf("downloaded clip: got %q, want %q", res.Audio, "RIFFclip")
	}
	if res.AudioMIMEType != "audio/wav" {
		t.Errorf("clip MIME type: got %q, want %q", res.AudioMIMEType, "audio/wav")
	}
}

func TestRemote_TaggedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model overloaded","stage":"completion"}`))
	}))
	defer srv.Close()

	p := pipeline.NewRemote(srv.URL)
	_, err := p.Process(context.Background(), pipeline.Request{WAV: []byte("x")})

	var se *pipeline.StageError
	if !errors.As(err, &se) {
		t.Fatalf("error: got %v, want StageError", err)
	}
	if se.Stage != pipeline.StageCompletion {
		t.Errorf("stage: got %q, want %q", se.Stage, pipeline.StageCompletion)
	}
}
