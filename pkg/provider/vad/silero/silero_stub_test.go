//go:build !silero

package silero_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/silero"
)

func TestStubReportsSilence(t *testing.T) {
	t.Parallel()

	if silero.Available() {
		t.Fatal("Available() = true without the silero tag")
	}
	e := silero.New("/nonexistent/silero_vad.onnx")
	if !errors.Is(e.Err(), silero.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable", e.Err())
	}
	s, err := e.NewSession(vad.Config{SampleRate: 16000, FrameSize: 512})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	loud := make([]float32, 512)
	for i := range loud {
		loud[i] = 0.9
	}
	v, err := s.ProcessFrame(loud)
	if err != nil || v.Speech || v.Confidence != 0 {
		t.Errorf("ProcessFrame = %+v, %v; want silence, nil", v, err)
	}
	s.Reset()
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
