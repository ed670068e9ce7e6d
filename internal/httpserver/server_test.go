package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jabber-ai/jabber/internal/httpserver"
	"github.com/jabber-ai/jabber/internal/pipeline"
	pipemock "github.com/jabber-ai/jabber/internal/pipeline/mock"
	"github.com/jabber-ai/jabber/internal/store"
)

// speakForm builds a multipart speak request body. Pass nil audio to omit the
// audio part.
func speakForm(t *testing.T, audio []byte, systemPrompt string, history []string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if audio != nil {
		part, err := w.CreateFormFile("audio", "utterance.wav")
		if err != nil {
			t.Fatalf("create audio part: %v", err)
		}
		if _, err := part.Write(audio); err != nil {
			t.Fatalf("write audio part: %v", err)
		}
	}
	if systemPrompt != "" {
		if err := w.WriteField("systemPrompt", systemPrompt); err != nil {
			t.Fatalf("write systemPrompt: %v", err)
		}
	}
	for _, h := range history {
		if err := w.WriteField("history", h); err != nil {
			t.Fatalf("write history: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func newTestServer(pipe pipeline.Pipeline, clips store.Store) *httptest.Server {
	srv := httpserver.New(":0", pipe, clips)
	return httptest.NewServer(srv.Handler())
}

func TestSpeak_Success(t *testing.T) {
	t.Parallel()

	pipe := &pipemock.Pipeline{
		ProcessResult: pipeline.Result{
			AudioURL:  "http://localhost/audio/c1",
			ReplyText: "hi there",
		},
	}
	ts := newTestServer(pipe, store.NewMemoryStore())
	defer ts.Close()

	body, contentType := speakForm(t, []byte("RIFFwav"), "be nice", []string{"one", "two"})
	resp, err := http.Post(ts.URL+"/api/speak", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/speak: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}

	var out struct {
		AudioURL  string `json:"audioUrl"`
		ReplyText string `json:"replyText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.AudioURL != "http://localhost/audio/c1" {
		t.Errorf("audioUrl: got %q", out.AudioURL)
	}
	if out.ReplyText != "hi there" {
		t.Errorf("replyText: got %q", out.ReplyText)
	}

	if got := pipe.CallCount(); got != 1 {
		t.Fatalf("pipeline calls: got %d, want 1", got)
	}
	req := pipe.ProcessCalls[0].Req
	if string(req.WAV) != "RIFFwav" {
		t.Errorf("pipeline WAV: got %q", req.WAV)
	}
	if req.SystemPrompt != "be nice" {
		t.Errorf("pipeline system prompt: got %q", req.SystemPrompt)
	}
	if len(req.History) != 2 || req.History[0] != "one" {
		t.Errorf("pipeline history: got %v", req.History)
	}
}

func TestSpeak_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		audio   []byte
		prompt  string
		history []string
	}{
		{name: "missing audio", audio: nil, prompt: "be nice"},
		{name: "empty audio", audio: []byte{}, prompt: "be nice"},
		{name: "missing system prompt", audio: []byte("RIFF"), prompt: ""},
		{
			name:   "history over cap",
			audio:  []byte("RIFF"),
			prompt: "be nice",
			history: []string{
				"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11",
			},
		},
	}

	pipe := &pipemock.Pipeline{}
	ts := newTestServer(pipe, store.NewMemoryStore())
	defer ts.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := speakForm(t, tt.audio, tt.prompt, tt.history)
			resp, err := http.Post(ts.URL+"/api/speak", contentType, body)
			if err != nil {
				t.Fatalf("POST /api/speak: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}

			var out struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if out.Error == "" {
				t.Error("error body is empty")
			}
		})
	}

	if got := pipe.CallCount(); got != 0 {
		t.Errorf("pipeline calls for invalid requests: got %d, want 0", got)
	}
}

func TestSpeak_StageFailure(t *testing.T) {
	t.Parallel()

	pipe := &pipemock.Pipeline{
		ProcessErr: &pipeline.StageError{
			Stage: pipeline.StageSynthesis,
			Err:   errors.New("voice service unavailable"),
		},
	}
	ts := newTestServer(pipe, store.NewMemoryStore())
	defer ts.Close()

	body, contentType := speakForm(t, []byte("RIFF"), "be nice", nil)
	resp, err := http.Post(ts.URL+"/api/speak", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/speak: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}

	var out struct {
		Error string `json:"error"`
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Stage != "synthesis" {
		t.Errorf("stage: got %q, want %q", out.Stage, "synthesis")
	}
	if out.Error != "voice service unavailable" {
		t.Errorf("error: got %q", out.Error)
	}
}

func TestAudio_ServesStoredClip(t *testing.T) {
	t.Parallel()

	clips := store.NewMemoryStore()
	id, err := clips.Put(context.Background(), []byte("RIFFclip"), "audio/wav")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	ts := newTestServer(&pipemock.Pipeline{}, clips)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/audio/" + id)
	if err != nil {
		t.Fatalf("GET /audio: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/wav" {
		t.Errorf("content type: got %q", got)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if buf.String() != "RIFFclip" {
		t.Errorf("body: got %q, want %q", buf.String(), "RIFFclip")
	}
}

func TestAudio_UnknownClip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&pipemock.Pipeline{}, store.NewMemoryStore())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/audio/nope")
	if err != nil {
		t.Fatalf("GET /audio: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&pipemock.Pipeline{}, store.NewMemoryStore())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, resp.StatusCode)
		}
	}
}
