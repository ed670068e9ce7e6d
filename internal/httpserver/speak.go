package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jabber-ai/jabber/internal/observe"
	"github.com/jabber-ai/jabber/internal/pipeline"
)

// Limits on speak request inputs.
const (
	maxAudioBytes     = 25 << 20 // 25 MiB, enough for several minutes of WAV
	maxHistoryEntries = 10
)

// speakResponse is the success body of POST /api/speak.
type speakResponse struct {
	AudioURL  string `json:"audioUrl"`
	ReplyText string `json:"replyText"`
}

// errorResponse is the failure body of all endpoints. Stage is set when a
// pipeline stage failed, so remote callers can tag the error the same way a
// local pipeline would.
type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// handleSpeak runs one utterance through the reply pipeline.
//
// Request: multipart form with an "audio" file (required), a "systemPrompt"
// field (required), and up to 10 repeated "history" fields carrying previous
// reply texts in order. The caller truncates history; entries beyond the cap
// are rejected, not trimmed.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "request is not valid multipart form data", "")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing required field: audio", "")
		return
	}
	defer file.Close()

	wav, err := io.ReadAll(io.LimitReader(file, maxAudioBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio upload", "")
		return
	}
	if len(wav) == 0 {
		writeError(w, http.StatusBadRequest, "audio upload is empty", "")
		return
	}
	if len(wav) > maxAudioBytes {
		writeError(w, http.StatusBadRequest, "audio upload exceeds size limit", "")
		return
	}

	systemPrompt := r.FormValue("systemPrompt")
	if systemPrompt == "" {
		writeError(w, http.StatusBadRequest, "missing required field: systemPrompt", "")
		return
	}

	history := r.MultipartForm.Value["history"]
	if len(history) > maxHistoryEntries {
		writeError(w, http.StatusBadRequest, "history exceeds 10 entries", "")
		return
	}

	res, err := s.pipe.Process(r.Context(), pipeline.Request{
		WAV:          wav,
		SystemPrompt: systemPrompt,
		History:      history,
	})
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			writeError(w, http.StatusInternalServerError, se.Err.Error(), string(se.Stage))
			return
		}
		observe.Logger(r.Context()).Error("speak request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reply pipeline failed", "")
		return
	}

	writeJSON(w, http.StatusOK, speakResponse{
		AudioURL:  res.AudioURL,
		ReplyText: res.ReplyText,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	writeJSON(w, status, errorResponse{Error: msg, Stage: stage})
}
