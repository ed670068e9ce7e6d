package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Compile-time interface check.
var _ Pipeline = (*Remote)(nil)

// Remote is a [Pipeline] that delegates processing to a Jabber speak endpoint
// over HTTP. It lets a thin client run capture and playback locally while the
// providers live on a server.
type Remote struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// RemoteOption configures a [Remote] pipeline.
type RemoteOption func(*Remote)

// WithHTTPClient sets the HTTP client used for speak requests.
// Default: a client with a 120s timeout.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// NewRemote creates a pipeline that POSTs utterances to baseURL + "/api/speak".
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/speak",
		client:   &http.Client{Timeout: 120 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// speakResponse mirrors the speak endpoint's success body.
type speakResponse struct {
	AudioURL  string `json:"audioUrl"`
	ReplyText string `json:"replyText"`
}

// speakError mirrors the speak endpoint's error body.
type speakError struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Process implements [Pipeline]. The request is sent as multipart form data
// with an "audio" file part plus "systemPrompt" and repeated "history" fields.
func (r *Remote) Process(ctx context.Context, req Request) (Result, error) {
	start := r.now()

	body, contentType, err := encodeSpeakRequest(req)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: encode speak request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: build speak request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: speak endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, decodeSpeakError(resp)
	}

	var sr speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("pipeline: decode speak response: %w", err)
	}

	clip, mimeType, err := r.download(ctx, sr.AudioURL)
	if err != nil {
		return Result{}, err
	}

	return Result{
		ReplyText:     sr.ReplyText,
		AudioURL:      sr.AudioURL,
		Audio:         clip,
		AudioMIMEType: mimeType,
		Elapsed:       r.now().Sub(start),
	}, nil
}

// download fetches the stored reply clip so the caller can play it locally.
func (r *Remote) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: build clip request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: fetch clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("pipeline: fetch clip: HTTP %d", resp.StatusCode)
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: read clip: %w", err)
	}
	return clip, resp.Header.Get("Content-Type"), nil
}

// encodeSpeakRequest builds the multipart form body for req.
func encodeSpeakRequest(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.WAV); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("systemPrompt", req.SystemPrompt); err != nil {
		return nil, "", err
	}
	for _, reply := range req.History {
		if err := w.WriteField("history", reply); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeSpeakError maps a non-200 speak response to a tagged pipeline error
// where the server names the failed stage, or a plain error otherwise.
func decodeSpeakError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var se speakError
	if err := json.Unmarshal(raw, &se); err == nil && se.Error != "" {
		if se.Stage != "" {
			return stageErr(Stage(se.Stage), fmt.Errorf("%s", se.Error))
		}
		return fmt.Errorf("pipeline: speak endpoint: %s (HTTP %d)", se.Error, resp.StatusCode)
	}
	return fmt.Errorf("pipeline: speak endpoint returned HTTP %d", resp.StatusCode)
}
