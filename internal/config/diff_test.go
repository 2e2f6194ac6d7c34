package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func loadDiffConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := loadDiffConfig(t, sampleYAML)
	other := loadDiffConfig(t, sampleYAML)

	d := config.Diff(cfg, other)
	if d.Changed() {
		t.Errorf("expected no hot-reloadable changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old := loadDiffConfig(t, `
server:
  log_level: info
transcription:
  mode: local
  vocabulary: [Kubernetes]
vad:
  threshold: 0.5
`)
	new := loadDiffConfig(t, `
server:
  log_level: debug
transcription:
  mode: cloud
  vocabulary: [Kubernetes, Postgres]
vad:
  threshold: 0.7
`)

	d := config.Diff(old, new)
	if !d.Changed() {
		t.Fatal("expected Changed() = true")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.ModeChanged || d.NewMode != "cloud" {
		t.Errorf("mode: changed=%v new=%q", d.ModeChanged, d.NewMode)
	}
	if !d.VADThresholdChanged || d.NewVADThreshold != 0.7 {
		t.Errorf("vad threshold: changed=%v new=%v", d.VADThresholdChanged, d.NewVADThreshold)
	}
	if !d.VocabularyChanged || !slices.Equal(d.NewVocabulary, []string{"Kubernetes", "Postgres"}) {
		t.Errorf("vocabulary: changed=%v new=%v", d.VocabularyChanged, d.NewVocabulary)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{
			name: "audio device",
			old:  "audio:\n  device: a\n",
			new:  "audio:\n  device: b\n",
			want: "audio",
		},
		{
			name: "listen addr",
			old:  "server:\n  listen_addr: \":1\"\n",
			new:  "server:\n  listen_addr: \":2\"\n",
			want: "server.listen_addr",
		},
		{
			name: "vad provider option",
			old:  "vad:\n  provider:\n    name: energy\n    options:\n      hangover: 3\n",
			new:  "vad:\n  provider:\n    name: energy\n    options:\n      hangover: 4\n",
			want: "vad.provider",
		},
		{
			name: "segmenter",
			old:  "segmenter:\n  flush_on_stop: false\n",
			new:  "segmenter:\n  flush_on_stop: true\n",
			want: "segmenter",
		},
		{
			name: "cloud provider",
			old:  "transcription:\n  cloud:\n    name: openai\n",
			new:  "transcription:\n  cloud:\n    name: deepgram\n",
			want: "transcription providers",
		},
		{
			name: "workers",
			old:  "dispatch:\n  workers: 1\n",
			new:  "dispatch:\n  workers: 3\n",
			want: "dispatch",
		},
		{
			name: "transcript store",
			old:  "transcripts:\n  max_entries: 10\n",
			new:  "transcripts:\n  max_entries: 20\n",
			want: "transcripts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := config.Diff(loadDiffConfig(t, tt.old), loadDiffConfig(t, tt.new))
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if d.Changed() {
				t.Errorf("restart-only change should not be hot-reloadable, got %+v", d)
			}
		})
	}
}
