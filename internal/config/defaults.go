package config

import (
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/listener"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Defaults for fields left empty in the YAML file.
const (
	DefaultListenAddr  = "127.0.0.1:8765"
	DefaultAudioSource = "miniaudio"
	DefaultVADProvider = "energy"
	DefaultQueuePolicy = "drop_oldest"
	DefaultResampler   = "sinc"
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = DefaultAudioSource
	}
	if a.BlockSize == 0 {
		a.BlockSize = listener.DefaultBlockSize
	}
	if a.QueueSize == 0 {
		a.QueueSize = audio.DefaultQueueSize
	}
	if a.QueuePolicy == "" {
		a.QueuePolicy = DefaultQueuePolicy
	}
	if a.PopTimeout == 0 {
		a.PopTimeout = listener.DefaultPopTimeout
	}
	if a.Resampler == "" {
		a.Resampler = DefaultResampler
	}

	if cfg.VAD.Provider.Name == "" {
		cfg.VAD.Provider.Name = DefaultVADProvider
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = vad.DefaultSpeechThreshold
	}

	s := &cfg.Segmenter
	if s.SilenceThresholdFrames == 0 {
		s.SilenceThresholdFrames = segment.DefaultSilenceThreshold
	}
	if s.MinSpeechSamples == 0 {
		s.MinSpeechSamples = segment.DefaultMinSpeechSamples
	}

	t := &cfg.Transcription
	if t.Mode == "" {
		t.Mode = dispatch.ModeLocal
	}
	if t.LocalOnError == "" {
		t.LocalOnError = dispatch.DefaultPolicy(dispatch.ModeLocal)
	}
	if t.CloudOnError == "" {
		t.CloudOnError = dispatch.DefaultPolicy(dispatch.ModeCloud)
	}
	if t.Timeout == 0 {
		t.Timeout = dispatch.DefaultTimeout
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = dispatch.DefaultWorkers
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = dispatch.DefaultQueueSize
	}

	if cfg.Transcripts.MaxEntries == 0 {
		cfg.Transcripts.MaxEntries = transcript.DefaultMaxEntries
	}
}

// SegmenterRules converts the segmenter section for segment.New.
func (c *Config) SegmenterRules() segment.Config {
	return segment.Config{
		SilenceThreshold:  c.Segmenter.SilenceThresholdFrames,
		MinSpeechSamples:  c.Segmenter.MinSpeechSamples,
		MaxSegmentSamples: c.Segmenter.MaxSegmentSamples,
		FlushOnStop:       c.Segmenter.FlushOnStop,
		SampleRate:        audio.TargetSampleRate,
	}
}

// QueuePolicy returns the parsed audio.queue_policy. Invalid values are
// rejected by Validate and map to drop_oldest here.
func (c *Config) QueuePolicy() audio.QueuePolicy {
	p, _ := audio.ParseQueuePolicy(c.Audio.QueuePolicy)
	return p
}

// ResamplerQuality returns the parsed audio.resampler.
func (c *Config) ResamplerQuality() audio.Quality {
	q, _ := audio.ParseQuality(c.Audio.Resampler)
	return q
}
