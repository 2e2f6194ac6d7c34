package config

import (
	"fmt"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked. Everything else
// (audio device, providers, worker pool, transcript store) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ModeChanged bool
	NewMode     string

	// VADThresholdChanged takes effect on the next capture start.
	VADThresholdChanged bool
	NewVADThreshold     float64

	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired lists sections whose changes were ignored.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ModeChanged || d.VADThresholdChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Transcription.Mode != new.Transcription.Mode {
		d.ModeChanged = true
		d.NewMode = string(new.Transcription.Mode)
	}
	if old.VAD.Threshold != new.VAD.Threshold {
		d.VADThresholdChanged = true
		d.NewVADThreshold = new.VAD.Threshold
	}
	if !slices.Equal(old.Transcription.Vocabulary, new.Transcription.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Transcription.Vocabulary)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameAudio(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !sameProvider(old.VAD.Provider, new.VAD.Provider) {
		d.RestartRequired = append(d.RestartRequired, "vad.provider")
	}
	if old.Segmenter != new.Segmenter {
		d.RestartRequired = append(d.RestartRequired, "segmenter")
	}
	if !sameProviders(old.Transcription, new.Transcription) {
		d.RestartRequired = append(d.RestartRequired, "transcription providers")
	}
	if old.Dispatch != new.Dispatch {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if old.Transcripts != new.Transcripts {
		d.RestartRequired = append(d.RestartRequired, "transcripts")
	}
	return d
}

func sameProviders(a, b TranscriptionConfig) bool {
	return sameProvider(a.Local, b.Local) &&
		sameProvider(a.Cloud, b.Cloud) &&
		slices.EqualFunc(a.LocalFallbacks, b.LocalFallbacks, sameProvider) &&
		slices.EqualFunc(a.CloudFallbacks, b.CloudFallbacks, sameProvider) &&
		a.LocalOnError == b.LocalOnError &&
		a.CloudOnError == b.CloudOnError &&
		a.Timeout == b.Timeout
}

// sameProvider compares two entries. Options are compared by key set and
// formatted value.
func sameProvider(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

func sameAudio(a, b AudioConfig) bool {
	if !slices.Equal(a.Backends, b.Backends) {
		return false
	}
	a.Backends, b.Backends = nil, nil
	return reflect.DeepEqual(a, b)
}
