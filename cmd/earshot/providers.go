package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio/capture"
	"github.com/MrWong99/earshot/pkg/audio/capture/miniaudio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/silero"
)

// builtinProviders maps provider kinds to the implementations that ship with
// earshot. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":     {"whisper", "whisper-native", "openai", "deepgram"},
	"vad":     {"energy", "silero"},
	"capture": {"miniaudio"},
}

// malgoBackends maps audio.backends names to miniaudio backends.
var malgoBackends = map[string]malgo.Backend{
	"pulseaudio": malgo.BackendPulseaudio,
	"alsa":       malgo.BackendAlsa,
	"jack":       malgo.BackendJack,
	"coreaudio":  malgo.BackendCoreaudio,
	"wasapi":     malgo.BackendWasapi,
	"null":       malgo.BackendNull,
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// vocabulary is offered to cloud backends that accept recognition hints.
func registerBuiltinProviders(reg *config.Registry, vocabulary []string) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		prompt := optString(entry.Options, "prompt")
		if prompt == "" && len(vocabulary) > 0 {
			prompt = strings.Join(vocabulary, ", ")
		}
		if prompt != "" {
			opts = append(opts, openai.WithPrompt(prompt))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if len(vocabulary) > 0 {
			opts = append(opts, deepgram.WithKeywords(vocabulary...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		floor, okFloor := optFloat(entry.Options, "floor_db")
		ceil, okCeil := optFloat(entry.Options, "ceil_db")
		if okFloor || okCeil {
			if !okFloor {
				floor = energy.DefaultFloorDB
			}
			if !okCeil {
				ceil = energy.DefaultCeilDB
			}
			opts = append(opts, energy.WithRange(floor, ceil))
		}
		if alpha, ok := optFloat(entry.Options, "smoothing"); ok {
			opts = append(opts, energy.WithSmoothing(alpha))
		}
		return energy.New(opts...)
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []silero.Option
		if lib := optString(entry.Options, "library_path"); lib != "" {
			opts = append(opts, silero.WithLibraryPath(lib))
		}
		e := silero.New(entry.Model, opts...)
		if err := e.Err(); err != nil {
			// The engine still runs; every frame counts as silence.
			slog.Warn("silero vad unavailable, no speech will be detected", "err", err, "model", entry.Model)
		}
		return e, nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("miniaudio", func(entry config.ProviderEntry) (capture.Source, error) {
		opts := []miniaudio.Option{miniaudio.WithLogger(slog.Default())}
		if names := optStrings(entry.Options, "backends"); len(names) > 0 {
			backends := make([]malgo.Backend, 0, len(names))
			for _, n := range names {
				b, ok := malgoBackends[n]
				if !ok {
					return nil, fmt.Errorf("miniaudio: unknown backend %q", n)
				}
				backends = append(backends, b)
			}
			opts = append(opts, miniaudio.WithBackends(backends...))
		}
		return miniaudio.New(opts...), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// builtProviders is the result of buildProviders. closers release
// in-process models after the application has shut down.
type builtProviders struct {
	*app.Providers
	closers  []io.Closer
	fallback resilience.FallbackConfig
}

// buildProviders instantiates all providers named in cfg using the registry.
// fallback configures the breakers of routes with fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry, fallback resilience.FallbackConfig) (*builtProviders, error) {
	bp := &builtProviders{Providers: &app.Providers{}, fallback: fallback}

	src, err := reg.CreateCapture(config.ProviderEntry{
		Name:    cfg.Audio.Source,
		Options: map[string]any{"backends": cfg.Audio.Backends},
	})
	if err != nil {
		return nil, fmt.Errorf("create capture source %q: %w", cfg.Audio.Source, err)
	}
	bp.Capture = src
	slog.Info("provider created", "kind", "capture", "name", cfg.Audio.Source)

	engine, err := reg.CreateVAD(cfg.VAD.Provider)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.VAD.Provider.Name, err)
	}
	bp.VAD = engine
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Provider.Name)

	t := cfg.Transcription
	bp.Local, bp.LocalName, err = bp.buildSTT(reg, "local", t.Local, t.LocalFallbacks)
	if err != nil {
		bp.close()
		return nil, err
	}
	bp.Cloud, bp.CloudName, err = bp.buildSTT(reg, "cloud", t.Cloud, t.CloudFallbacks)
	if err != nil {
		bp.close()
		return nil, err
	}
	return bp, nil
}

// buildSTT creates the provider for one mode. Fallbacks wrap the primary
// in a resilience.STTFallback. An unconfigured cloud backend or one without
// an API key yields a nil provider, which the dispatcher reports as a
// missing key.
func (bp *builtProviders) buildSTT(reg *config.Registry, slot string, primary config.ProviderEntry, fallbacks []config.ProviderEntry) (stt.Provider, string, error) {
	if primary.Name == "" {
		slog.Warn("no transcription backend configured", "mode", slot)
		return nil, "", nil
	}
	p, err := bp.createSTT(reg, slot, primary)
	if err != nil || p == nil {
		return nil, primary.Name, err
	}
	if len(fallbacks) == 0 {
		return p, primary.Name, nil
	}

	fb := resilience.NewSTTFallback(p, primary.Name, bp.fallback)
	for _, entry := range fallbacks {
		q, err := bp.createSTT(reg, slot, entry)
		if err != nil {
			return nil, "", err
		}
		if q != nil {
			fb.AddFallback(entry.Name, q)
		}
	}
	return fb, primary.Name, nil
}

func (bp *builtProviders) createSTT(reg *config.Registry, slot string, entry config.ProviderEntry) (stt.Provider, error) {
	if slot == "cloud" && entry.APIKey == "" && requiresAPIKey(entry.Name) {
		slog.Warn("cloud backend has no api key; segments will report it missing", "name", entry.Name)
		return nil, nil
	}
	p, err := reg.CreateSTT(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("stt provider not registered, skipping", "mode", slot, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s stt provider %q: %w", slot, entry.Name, err)
	}
	if c, ok := p.(io.Closer); ok {
		bp.closers = append(bp.closers, c)
	}
	slog.Info("provider created", "kind", "stt", "mode", slot, "name", entry.Name)
	return p, nil
}

func (bp *builtProviders) close() {
	for _, c := range bp.closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
	bp.closers = nil
}

func requiresAPIKey(name string) bool {
	return name == "openai" || name == "deepgram"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. A single string is accepted as a
// one-element list.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// optFloat extracts a number. YAML integers decode as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
