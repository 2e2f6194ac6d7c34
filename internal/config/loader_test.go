package config_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantSub: "server.log_level",
		},
		{
			name:    "invalid queue policy",
			yaml:    "audio:\n  queue_policy: newest\n",
			wantSub: "audio.queue_policy",
		},
		{
			name:    "invalid resampler",
			yaml:    "audio:\n  resampler: cubic\n",
			wantSub: "audio.resampler",
		},
		{
			name:    "negative block size",
			yaml:    "audio:\n  block_size: -1\n",
			wantSub: "audio.block_size",
		},
		{
			name:    "negative pop timeout",
			yaml:    "audio:\n  pop_timeout: -5ms\n",
			wantSub: "audio.pop_timeout",
		},
		{
			name:    "threshold at one",
			yaml:    "vad:\n  threshold: 1\n",
			wantSub: "vad.threshold",
		},
		{
			name:    "silero without model",
			yaml:    "vad:\n  provider:\n    name: silero\n",
			wantSub: "vad.provider.model",
		},
		{
			name:    "max segment below min speech",
			yaml:    "segmenter:\n  min_speech_samples: 16000\n  max_segment_samples: 8000\n",
			wantSub: "segmenter.max_segment_samples",
		},
		{
			name:    "negative silence threshold",
			yaml:    "segmenter:\n  silence_threshold_frames: -3\n",
			wantSub: "segmenter.silence_threshold_frames",
		},
		{
			name:    "invalid mode",
			yaml:    "transcription:\n  mode: hybrid\n",
			wantSub: "transcription.mode",
		},
		{
			name:    "invalid error policy",
			yaml:    "transcription:\n  cloud_on_error: retry\n",
			wantSub: "transcription.cloud_on_error",
		},
		{
			name:    "fallback without name",
			yaml:    "transcription:\n  local:\n    name: whisper\n  local_fallbacks:\n    - model: x\n",
			wantSub: "transcription.local_fallbacks[0].name",
		},
		{
			name:    "fallback without primary",
			yaml:    "transcription:\n  cloud_fallbacks:\n    - name: openai\n",
			wantSub: "require transcription.cloud",
		},
		{
			name:    "negative workers",
			yaml:    "dispatch:\n  workers: -1\n",
			wantSub: "dispatch.workers",
		},
		{
			name:    "negative max entries",
			yaml:    "transcripts:\n  max_entries: -10\n",
			wantSub: "transcripts.max_entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
transcription:
  mode: hybrid
dispatch:
  workers: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "transcription.mode", "dispatch.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
transcription:
  local:
    name: my-custom-stt
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeFile(t, path, "server:\n  listen_addr: \"off\"\ntranscription:\n  mode: cloud\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "off" {
		t.Errorf("listen_addr: got %q, want off", cfg.Server.ListenAddr)
	}
	if cfg.Transcription.Mode != "cloud" {
		t.Errorf("mode: got %q, want cloud", cfg.Transcription.Mode)
	}
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "server:\n  log_level: loud\n")

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file, got: %v", err)
	}
}
