package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "whisper-native", "openai", "deepgram"},
	"vad":     {"energy", "silero"},
	"capture": {"miniaudio"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg, with defaults applied, contains a coherent set
// of values. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", a.BlockSize))
	}
	if a.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be at least 1", a.QueueSize))
	}
	if _, ok := audio.ParseQueuePolicy(a.QueuePolicy); !ok {
		errs = append(errs, fmt.Errorf("audio.queue_policy %q is invalid; valid values: drop_oldest, block", a.QueuePolicy))
	} else if a.QueuePolicy == "block" && a.Source == DefaultAudioSource {
		slog.Warn("audio.queue_policy block stalls the device callback when analysis falls behind; prefer drop_oldest for live capture")
	}
	if a.PopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("audio.pop_timeout %s must be positive", a.PopTimeout))
	}
	if _, ok := audio.ParseQuality(a.Resampler); !ok {
		errs = append(errs, fmt.Errorf("audio.resampler %q is invalid; valid values: sinc, linear", a.Resampler))
	}
	validateProviderName("capture", a.Source)

	// VAD
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range (0, 1)", cfg.VAD.Threshold))
	}
	validateProviderName("vad", cfg.VAD.Provider.Name)
	if cfg.VAD.Provider.Name == "silero" && cfg.VAD.Provider.Model == "" {
		errs = append(errs, errors.New("vad.provider.model is required for silero (path to the ONNX model)"))
	}

	// Segmenter
	s := cfg.Segmenter
	if s.SilenceThresholdFrames < 1 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold_frames %d must be at least 1", s.SilenceThresholdFrames))
	}
	if s.MinSpeechSamples < 1 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_samples %d must be at least 1", s.MinSpeechSamples))
	}
	if s.MaxSegmentSamples < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_samples %d must not be negative", s.MaxSegmentSamples))
	} else if s.MaxSegmentSamples > 0 && s.MaxSegmentSamples < s.MinSpeechSamples {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_samples %d is below min_speech_samples %d", s.MaxSegmentSamples, s.MinSpeechSamples))
	}

	// Transcription
	t := cfg.Transcription
	if !t.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.mode %q is invalid; valid values: local, cloud", t.Mode))
	}
	if !t.LocalOnError.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.local_on_error %q is invalid; valid values: drop, tag", t.LocalOnError))
	}
	if !t.CloudOnError.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.cloud_on_error %q is invalid; valid values: drop, tag", t.CloudOnError))
	}
	if t.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must be positive", t.Timeout))
	}
	validateProviderName("stt", t.Local.Name)
	validateProviderName("stt", t.Cloud.Name)
	for i, fb := range t.LocalFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("transcription.local_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range t.CloudFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("transcription.cloud_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if len(t.LocalFallbacks) > 0 && t.Local.Name == "" {
		errs = append(errs, errors.New("transcription.local_fallbacks require transcription.local"))
	}
	if len(t.CloudFallbacks) > 0 && t.Cloud.Name == "" {
		errs = append(errs, errors.New("transcription.cloud_fallbacks require transcription.cloud"))
	}

	// Provider availability warnings
	if t.Local.Name == "" && t.Cloud.Name == "" {
		slog.Warn("no transcription provider configured; every segment will report a missing backend")
	}

	// Dispatch
	if cfg.Dispatch.Workers < 1 {
		errs = append(errs, fmt.Errorf("dispatch.workers %d must be at least 1", cfg.Dispatch.Workers))
	}
	if cfg.Dispatch.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("dispatch.queue_size %d must be at least 1", cfg.Dispatch.QueueSize))
	}

	// Transcripts
	if cfg.Transcripts.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("transcripts.max_entries %d must be at least 1", cfg.Transcripts.MaxEntries))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
