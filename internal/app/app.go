// Package app wires the earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// transcript log, the transcription dispatcher and the capture listener,
// Start and Stop drive capture, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTranscriptLog, WithOutput, ...) and mock providers in [Providers].
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/listener"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/postgres"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/capture"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// appendTimeout bounds one transcript log write from the delivery callback.
const appendTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil STT slots mean
// the backend is not configured; segments routed there report a missing
// backend. Populated by main.go via the config registry.
type Providers struct {
	Capture capture.Source
	VAD     vad.Engine

	Local     stt.Provider
	LocalName string

	Cloud     stt.Provider
	CloudName string
}

// App owns all subsystem lifetimes and orchestrates the earshot pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	log       *slog.Logger
	out       io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	transcripts transcript.Log
	corrector   *transcript.Corrector
	dispatcher  *dispatch.Dispatcher
	listener    *listener.Listener

	// wanted is true between Start and Stop. Capture that is wanted but
	// not running lost its device.
	wanted atomic.Bool

	outMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptLog injects a transcript log instead of creating one from
// config.
func WithTranscriptLog(l transcript.Log) Option {
	return func(a *App) { a.transcripts = l }
}

// WithOutput sets where delivered transcripts are printed, one per line.
// Default os.Stdout. A nil writer disables printing.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metric instruments. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Capture is not
// started; call [App.Start].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Capture == nil || providers.VAD == nil {
		return nil, errors.New("app: capture source and vad engine are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Transcript log ────────────────────────────────────────────────
	if err := a.initTranscripts(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}

	// ── 2. Vocabulary corrector ──────────────────────────────────────────
	a.corrector = transcript.NewCorrector(cfg.Transcription.Vocabulary)

	// ── 3. Dispatcher ────────────────────────────────────────────────────
	if err := a.initDispatcher(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}

	// ── 4. Listener ──────────────────────────────────────────────────────
	if err := a.initListener(); err != nil {
		_ = a.dispatcher.Close(context.Background())
		a.runClosers()
		return nil, fmt.Errorf("app: init listener: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTranscripts opens the PostgreSQL log when a DSN is configured and
// falls back to the in-memory log otherwise.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.transcripts != nil {
		return nil
	}
	tc := a.cfg.Transcripts
	if tc.PostgresDSN == "" {
		a.transcripts = transcript.NewMemLog(tc.MaxEntries)
		return nil
	}
	pl, err := postgres.New(ctx, tc.PostgresDSN, postgres.WithMaxEntries(tc.MaxEntries))
	if err != nil {
		return err
	}
	a.transcripts = pl
	a.closers = append(a.closers, func() error {
		pl.Close()
		return nil
	})
	return nil
}

func (a *App) initDispatcher() error {
	tc := a.cfg.Transcription
	d, err := dispatch.New(dispatch.Config{
		Workers:   a.cfg.Dispatch.Workers,
		QueueSize: a.cfg.Dispatch.QueueSize,
		Timeout:   tc.Timeout,
		Mode:      tc.Mode,
		Routes: map[dispatch.Mode]dispatch.Route{
			dispatch.ModeLocal: {
				Provider: a.providers.Local,
				Name:     a.providers.LocalName,
				OnError:  tc.LocalOnError,
			},
			dispatch.ModeCloud: {
				Provider: a.providers.Cloud,
				Name:     a.providers.CloudName,
				OnError:  tc.CloudOnError,
			},
		},
		OnTranscript: a.handleTranscript,
		Metrics:      a.metrics,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

func (a *App) initListener() error {
	l, err := listener.New(listener.Options{
		Source:       a.providers.Capture,
		VAD:          a.providers.VAD,
		Dispatcher:   a.dispatcher,
		Segmenter:    a.cfg.SegmenterRules(),
		VADThreshold: a.cfg.VAD.Threshold,
		BlockSize:    a.cfg.Audio.BlockSize,
		QueueSize:    a.cfg.Audio.QueueSize,
		QueuePolicy:  a.cfg.QueuePolicy(),
		PopTimeout:   a.cfg.Audio.PopTimeout,
		Resampler:    &audio.Resampler{Quality: a.cfg.ResamplerQuality()},
		OnError: func(msg string) {
			a.log.Error("capture stopped", "err", msg)
		},
		Metrics: a.metrics,
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	a.listener = l
	return nil
}

// ─── Capture control ─────────────────────────────────────────────────────────

// Start opens the configured capture device and begins listening. Starting
// a running listener is a no-op.
func (a *App) Start(ctx context.Context) error {
	a.wanted.Store(true)
	if err := a.listener.Start(ctx, a.cfg.Audio.Device); err != nil {
		a.wanted.Store(false)
		return err
	}
	return nil
}

// Stop ends capture. Stopping an idle listener is a no-op.
func (a *App) Stop() error {
	a.wanted.Store(false)
	return a.listener.Stop()
}

// Toggle starts capture when it is stopped and stops it otherwise. It
// returns whether capture is running afterwards.
func (a *App) Toggle(ctx context.Context) (bool, error) {
	if a.listener.Running() {
		return false, a.Stop()
	}
	if err := a.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Running reports whether a capture session is active.
func (a *App) Running() bool { return a.listener.Running() }

// Wanted reports whether capture was started and not stopped since.
func (a *App) Wanted() bool { return a.wanted.Load() }

// Device returns the device of the running session, or "".
func (a *App) Device() string { return a.listener.Device() }

// Stats returns the cumulative listener counters.
func (a *App) Stats() listener.Stats { return a.listener.Stats() }

// Mode returns the active transcription mode.
func (a *App) Mode() dispatch.Mode { return a.dispatcher.Mode() }

// SetMode switches the transcription mode for segments closed from now on.
func (a *App) SetMode(m dispatch.Mode) error { return a.dispatcher.SetMode(m) }

// Devices lists the capture devices of the configured source.
func (a *App) Devices(ctx context.Context) ([]capture.Device, error) {
	return a.providers.Capture.Devices(ctx)
}

// Transcripts returns the transcript log.
func (a *App) Transcripts() transcript.Log { return a.transcripts }

// ─── Transcripts ─────────────────────────────────────────────────────────────

// handleTranscript corrects, records and prints one delivered transcript.
// It runs on a dispatcher worker.
func (a *App) handleTranscript(t dispatch.Transcript) {
	text := t.Text
	if t.Err == nil {
		var corrections []transcript.Correction
		text, corrections = a.corrector.Correct(text)
		for _, c := range corrections {
			a.log.Debug("vocabulary correction",
				"seq", t.Seq, "from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	_, err := a.transcripts.Append(ctx, transcript.Entry{
		Text:          text,
		Mode:          string(t.Mode),
		Provider:      t.Provider,
		AudioDuration: t.AudioDuration,
	})
	if err != nil {
		a.log.Warn("failed to record transcript", "seq", t.Seq, "err", err)
	}

	if a.out == nil {
		return
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if _, err := fmt.Fprintln(a.out, text); err != nil {
		a.log.Warn("failed to print transcript", "seq", t.Seq, "err", err)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of d. Log level changes are
// left to the caller, which owns the handler.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.ModeChanged {
		if err := a.SetMode(dispatch.Mode(d.NewMode)); err != nil {
			a.log.Warn("config reload: mode not applied", "err", err)
		}
	}
	if d.VADThresholdChanged {
		if err := a.listener.SetVADThreshold(d.NewVADThreshold); err != nil {
			a.log.Warn("config reload: vad threshold not applied", "err", err)
		} else {
			a.log.Info("vad threshold changed, applies on next start", "threshold", d.NewVADThreshold)
		}
	}
	if d.VocabularyChanged {
		a.corrector.SetVocabulary(d.NewVocabulary)
		a.log.Info("vocabulary updated", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

// HealthCheckers returns the readiness checks for the control API: capture
// state, transcript store connectivity and backend circuit breakers.
func (a *App) HealthCheckers() []health.Checker {
	checkers := []health.Checker{health.Capture(a.listener, a.Wanted)}
	if p, ok := a.transcripts.(health.Pinger); ok {
		checkers = append(checkers, health.Store("transcripts", p))
	}
	type statuser interface {
		Status() []resilience.EntryStatus
	}
	if s, ok := a.providers.Local.(statuser); ok {
		checkers = append(checkers, health.Backends("local", s.Status))
	}
	if s, ok := a.providers.Cloud.(statuser); ok {
		checkers = append(checkers, health.Backends("cloud", s.Status))
	}
	return checkers
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, waits for queued transcriptions and closes the
// transcript log. It respects the context deadline: if ctx expires while
// transcriptions are pending, they are cancelled and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "pending", a.dispatcher.Pending())

		if err := a.Stop(); err != nil {
			a.log.Warn("capture stop error", "err", err)
		}
		if err := a.dispatcher.Close(ctx); err != nil {
			a.log.Warn("dispatcher did not drain before deadline", "err", err)
			shutdownErr = err
		}
		a.runClosers()

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
