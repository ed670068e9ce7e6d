// Package app wires all Jabber subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes until the context is cancelled, and Shutdown tears
// everything down in order.
//
// By default the microphone is standard input (raw 16-bit PCM, e.g. piped
// from arecord) and the speaker is standard output (raw PCM, e.g. piped to
// aplay). Inject other devices or test doubles via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jabber-ai/jabber/internal/config"
	"github.com/jabber-ai/jabber/internal/health"
	"github.com/jabber-ai/jabber/internal/httpserver"
	"github.com/jabber-ai/jabber/internal/pipeline"
	"github.com/jabber-ai/jabber/internal/playback"
	"github.com/jabber-ai/jabber/internal/store"
	"github.com/jabber-ai/jabber/internal/turn"
	"github.com/jabber-ai/jabber/internal/vad"
	"github.com/jabber-ai/jabber/pkg/audio"
	"github.com/jabber-ai/jabber/pkg/capture"
)

// captureFormat is the PCM format expected on the input stream.
var captureFormat = audio.Format{SampleRate: 16000, Channels: 1}

// App owns all subsystem lifetimes and orchestrates the voice agent.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	clips      store.Store
	pipe       pipeline.Pipeline
	source     capture.Source
	player     playback.Player
	controller *turn.Controller
	server     *httpserver.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a clip store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.clips = s }
}

// WithPipeline injects a pipeline instead of creating one from the providers.
func WithPipeline(p pipeline.Pipeline) Option {
	return func(a *App) { a.pipe = p }
}

// WithSource injects a capture source instead of reading PCM from stdin.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithPlayer injects a playback sink instead of writing PCM to stdout.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via [DefaultRegistry] and [ResolveProviders]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initPipeline()
	a.initDevices()
	a.initController()
	a.initServer()

	return a, nil
}

// initStore sets up the PostgreSQL clip store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.clips != nil {
		return nil
	}

	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.clips = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		return nil
	}

	retention := time.Duration(a.cfg.Storage.RetentionMinutes) * time.Minute
	if retention == 0 {
		retention = time.Hour
	}
	a.clips = store.NewMemoryStore(store.WithRetention(retention))
	return nil
}

// initPipeline builds either the local staged pipeline or a remote delegate.
func (a *App) initPipeline() {
	if a.pipe != nil {
		return
	}

	if remote := a.cfg.Agent.RemoteURL; remote != "" {
		a.pipe = pipeline.NewRemote(remote)
		slog.Info("delegating processing to remote endpoint", "url", remote)
		return
	}

	a.pipe = pipeline.NewLocal(
		a.providers.STT,
		a.providers.LLM,
		a.providers.TTS,
		a.clips,
		a.baseURL(),
		pipeline.WithVoice(a.cfg.Agent.Voice),
	)
}

// initDevices sets up the default stdin source and stdout player when none
// were injected. The source is wrapped so the detector always sees
// captureFormat frames, whatever rate and channel count the device delivers.
func (a *App) initDevices() {
	frameInterval := time.Duration(a.cfg.Listen.FrameIntervalMS) * time.Millisecond

	if a.source == nil {
		var opts []capture.ReaderOption
		if frameInterval > 0 {
			opts = append(opts, capture.WithFrameInterval(frameInterval))
		}
		a.source = capture.NewReaderSource(os.Stdin, a.inputFormat(), opts...)
	}
	a.source = capture.Normalize(a.source, captureFormat)

	if a.player == nil {
		var opts []playback.SinkOption
		if frameInterval > 0 {
			opts = append(opts, playback.WithFrameInterval(frameInterval))
		}
		a.player = playback.NewSinkPlayer(os.Stdout, opts...)
	}
}

// initController builds the turn controller with detector windows from config.
func (a *App) initController() {
	var detectorOpts []vad.Option
	if a.cfg.Listen.ThresholdDB != 0 {
		detectorOpts = append(detectorOpts, vad.WithThresholdDB(a.cfg.Listen.ThresholdDB))
	}
	if a.cfg.Listen.QuietPeriodMS > 0 {
		detectorOpts = append(detectorOpts,
			vad.WithQuietPeriod(time.Duration(a.cfg.Listen.QuietPeriodMS)*time.Millisecond))
	}
	if a.cfg.Listen.MinSpeechMS > 0 {
		detectorOpts = append(detectorOpts,
			vad.WithMinSpeech(time.Duration(a.cfg.Listen.MinSpeechMS)*time.Millisecond))
	}

	ctrlOpts := []turn.Option{
		turn.WithSystemPrompt(a.cfg.Agent.SystemPrompt),
		turn.WithDetectorOptions(detectorOpts...),
	}
	if a.cfg.Agent.EchoGuard {
		ctrlOpts = append(ctrlOpts, turn.WithEchoGuard(0))
	}

	a.controller = turn.NewController(a.source, a.pipe, a.player, ctrlOpts...)
}

// initServer builds the HTTP server with a clip-store readiness check.
func (a *App) initServer() {
	opts := []httpserver.Option{
		httpserver.WithReadinessCheck(health.Checker{
			Name: "store",
			Check: func(ctx context.Context) error {
				// A miss proves the store answers queries.
				_, err := a.clips.Get(ctx, "readiness-probe")
				if err == nil || errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			},
		}),
	}
	if tls := a.cfg.Server.TLS; tls != nil {
		opts = append(opts, httpserver.WithTLS(tls.CertFile, tls.KeyFile))
	}

	a.server = httpserver.New(a.listenAddr(), a.pipe, a.clips, opts...)
}

// Controller exposes the turn controller, e.g. for main to change the system
// prompt at runtime.
func (a *App) Controller() *turn.Controller {
	return a.controller
}

// Run starts the HTTP server and the conversation session, then blocks until
// ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})

	g.Go(func() error {
		if err := a.controller.Start(ctx); err != nil {
			return fmt.Errorf("app: start session: %w", err)
		}
		<-ctx.Done()
		a.controller.Stop()
		return nil
	})

	slog.Info("app running", "addr", a.listenAddr())
	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.controller.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// inputFormat returns the PCM format the input stream actually delivers,
// defaulting to captureFormat.
func (a *App) inputFormat() audio.Format {
	f := captureFormat
	if a.cfg.Listen.InputSampleRate > 0 {
		f.SampleRate = a.cfg.Listen.InputSampleRate
	}
	if a.cfg.Listen.InputChannels > 0 {
		f.Channels = a.cfg.Listen.InputChannels
	}
	return f
}

// listenAddr returns the configured listen address or the default ":8080".
func (a *App) listenAddr() string {
	if a.cfg.Server.ListenAddr != "" {
		return a.cfg.Server.ListenAddr
	}
	return ":8080"
}

// baseURL returns the configured external URL prefix or one derived from the
// listen address.
func (a *App) baseURL() string {
	if a.cfg.Server.BaseURL != "" {
		return a.cfg.Server.BaseURL
	}
	scheme := "http"
	if a.cfg.Server.TLS != nil {
		scheme = "https"
	}
	return scheme + "://localhost" + a.listenAddr()
}
