package main

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio/capture"
	capturemock "github.com/MrWong99/earshot/pkg/audio/capture/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func testRegistry(t *testing.T) *config.Registry {
	t.Helper()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, nil)
	reg.RegisterCapture("miniaudio", func(config.ProviderEntry) (capture.Source, error) {
		return &capturemock.Source{}, nil
	})
	return reg
}

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestBuildProviders_CloudWithoutKeyIsNil(t *testing.T) {
	t.Parallel()
	cfg := loadConfig(t, `
transcription:
  local:
    name: whisper
    base_url: http://127.0.0.1:8080
  cloud:
    name: openai
`)
	bp, err := buildProviders(cfg, testRegistry(t), resilience.FallbackConfig{})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if bp.Local == nil || bp.LocalName != "whisper" {
		t.Errorf("local = %v / %q, want whisper", bp.Local, bp.LocalName)
	}
	if bp.Cloud != nil {
		t.Errorf("cloud = %v, want nil without api key", bp.Cloud)
	}
	if bp.CloudName != "openai" {
		t.Errorf("cloud name = %q, want openai", bp.CloudName)
	}
	if bp.Capture == nil || bp.VAD == nil {
		t.Error("capture and vad must be set")
	}
}

func TestBuildProviders_FallbacksWrapPrimary(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	for _, name := range []string{"primary", "backup"} {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) {
			return &sttmock.Provider{}, nil
		})
	}
	cfg := loadConfig(t, `
transcription:
  local:
    name: primary
  local_fallbacks:
    - name: backup
`)
	bp, err := buildProviders(cfg, reg, resilience.FallbackConfig{})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	fb, ok := bp.Local.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("local = %T, want *resilience.STTFallback", bp.Local)
	}
	var names []string
	for _, s := range fb.Status() {
		names = append(names, s.Name)
	}
	if !slices.Equal(names, []string{"primary", "backup"}) {
		t.Errorf("failover order = %v", names)
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	boom := errors.New("boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, boom
	})
	cfg := loadConfig(t, "transcription:\n  local:\n    name: broken\n")
	if _, err := buildProviders(cfg, reg, resilience.FallbackConfig{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestBuildProviders_UnknownCaptureBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, nil)
	cfg := loadConfig(t, "audio:\n  backends: [carrier-pigeon]\n")
	if _, err := buildProviders(cfg, reg, resilience.FallbackConfig{}); err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("err = %v, want unknown backend", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"language": "de",
		"count":    3,
		"alpha":    0.25,
		"one":      "alsa",
		"many":     []any{"pulseaudio", 7, "alsa"},
	}

	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "count"); got != "" {
		t.Errorf("optString(count) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}

	tests := []struct {
		key  string
		want []string
	}{
		{"one", []string{"alsa"}},
		{"many", []string{"pulseaudio", "alsa"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		if got := optStrings(opts, tt.key); !slices.Equal(got, tt.want) {
			t.Errorf("optStrings(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}

	if v, ok := optFloat(opts, "count"); !ok || v != 3 {
		t.Errorf("optFloat(count) = %v, %v", v, ok)
	}
	if v, ok := optFloat(opts, "alpha"); !ok || v != 0.25 {
		t.Errorf("optFloat(alpha) = %v, %v", v, ok)
	}
	if _, ok := optFloat(opts, "language"); ok {
		t.Error("optFloat(language) should not parse")
	}
}
