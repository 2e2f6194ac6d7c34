// Command earshot listens on an audio input device, detects speech and
// prints each utterance's transcription to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/control"
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the available input devices and exit")
	modeFlag := flag.String("mode", "", "override transcription.mode (local or cloud)")
	noAutostart := flag.Bool("no-autostart", false, "do not start capture until requested over the control API")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/earshot.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}
	if *modeFlag != "" {
		m, err := dispatch.ParseMode(*modeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "earshot: -mode: %v\n", err)
			return 2
		}
		cfg.Transcription.Mode = m
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Transcription.Vocabulary)
	slog.Debug("providers registered", "available", reg.Names())

	if *listDevices {
		return printDevices(cfg, reg)
	}

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer providers.close()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers.Providers,
		app.WithMetrics(metrics),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if !*noAutostart {
		if err := application.Start(ctx); err != nil {
			// The control API can retry once the device is back.
			slog.Error("failed to start capture", "device", cfg.Audio.Device, "err", err)
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(prev, next *config.Config) {
		d := config.Diff(prev, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(d)
	}, config.WithWatchLogger(logger))
	g, gctx := errgroup.WithContext(ctx)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error { return reloadOnHangup(gctx, watcher) })
	}

	// ── Control API ───────────────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "off" {
		srv, err := control.New(control.Config{
			Controller:     application,
			Transcripts:    application.Transcripts(),
			Health:         health.New(application.HealthCheckers()...),
			MetricsHandler: telemetry.MetricsHandler(),
			Metrics:        metrics,
			Logger:         logger,
		})
		if err != nil {
			slog.Error("failed to create control api", "err", err)
			return 1
		}
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Server.ListenAddr, shutdownTimeout)
		})
	}

	slog.Info("listening, press Ctrl+C to shut down")

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("control api error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// printDevices lists the input devices of the configured capture source.
func printDevices(cfg *config.Config, reg *config.Registry) int {
	src, err := reg.CreateCapture(config.ProviderEntry{
		Name:    cfg.Audio.Source,
		Options: map[string]any{"backends": cfg.Audio.Backends},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}
	devices, err := src.Devices(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "earshot: list devices: %v\n", err)
		return 1
	}
	for i, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %2d  %s  (%s)\n", marker, i, d.Name, d.ID)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout carries transcripts.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        earshot: startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider("Capture", cfg.Audio.Source, cfg.Audio.Device)
	printProvider("VAD", cfg.VAD.Provider.Name, "")
	printProvider("Local STT", cfg.Transcription.Local.Name, cfg.Transcription.Local.Model)
	printProvider("Cloud STT", cfg.Transcription.Cloud.Name, cfg.Transcription.Cloud.Model)
	fmt.Fprintf(w, "║  Mode            : %-19s ║\n", cfg.Transcription.Mode)
	fmt.Fprintf(w, "║  Fallbacks       : %-19d ║\n", len(cfg.Transcription.LocalFallbacks)+len(cfg.Transcription.CloudFallbacks))
	fmt.Fprintf(w, "║  Vocabulary      : %-19d ║\n", len(cfg.Transcription.Vocabulary))
	if cfg.Transcripts.PostgresDSN != "" {
		fmt.Fprintf(w, "║  Transcripts     : %-19s ║\n", "postgres")
	} else {
		fmt.Fprintf(w, "║  Transcripts     : %-19s ║\n", "memory")
	}
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if changed, err := w.Reload(); err == nil && !changed {
				slog.Info("config unchanged", "path", w.Path())
			}
		}
	}
}
