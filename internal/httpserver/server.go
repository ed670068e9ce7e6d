// Package httpserver exposes the speak endpoint over HTTP: clients POST an
// utterance with conversational context and receive the reply text plus a URL
// for the synthesized clip, which is served back from the clip store.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jabber-ai/jabber/internal/health"
	"github.com/jabber-ai/jabber/internal/observe"
	"github.com/jabber-ai/jabber/internal/pipeline"
	"github.com/jabber-ai/jabber/internal/store"
)

// shutdownTimeout bounds how long a graceful shutdown may take.
const shutdownTimeout = 10 * time.Second

// Server serves the speak API, stored clips, health probes, and metrics.
type Server struct {
	addr     string
	pipe     pipeline.Pipeline
	clips    store.Store
	metrics  *observe.Metrics
	checkers []health.Checker
	tlsCert  string
	tlsKey   string

	httpSrv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithReadinessCheck adds a named readiness check served under /readyz.
func WithReadinessCheck(c health.Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, c)
	}
}

// WithTLS enables HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.tlsCert = certFile
		s.tlsKey = keyFile
	}
}

// New creates a server listening on addr. pipe handles speak requests and
// clips serves stored reply audio.
func New(addr string, pipe pipeline.Pipeline, clips store.Store, opts ...Option) *Server {
	s := &Server{
		addr:  addr,
		pipe:  pipe,
		clips: clips,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	healthHandler := health.New(s.checkers...)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/speak", s.handleSpeak)
	mux.HandleFunc("GET /audio/{id}", s.handleAudio)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully. Returns nil
// on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", s.addr, "tls", s.tlsCert != "")

		var err error
		if s.tlsCert != "" {
			err = s.httpSrv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleAudio streams a stored clip.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	clip, err := s.clips.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "clip not found", "")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("load clip", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load clip", "")
		return
	}

	w.Header().Set("Content-Type", clip.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Audio)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(clip.Audio)
}
