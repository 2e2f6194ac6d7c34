// Package silero provides a vad.Engine running the Silero VAD v5 model
// through ONNX Runtime.
//
// The inference backend is compiled in only with the `silero` build tag,
// which requires cgo and the ONNX Runtime shared library at run time.
// Without the tag, or when the model or runtime cannot be loaded, the
// engine still hands out sessions, but they classify every frame as
// silence and Err reports why.
package silero

import (
	"log/slog"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Option is a functional option for Engine.
type Option func(*Engine)

// WithLibraryPath sets the ONNX Runtime shared library path. It takes
// precedence over the EARSHOT_ORT_LIB_PATH environment variable.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libPath = path }
}

func logger() *slog.Logger {
	return slog.Default().With("component", "vad.silero")
}

// uninitialized is the session handed out when the model is not loaded.
type uninitialized struct{}

func (uninitialized) ProcessFrame([]float32) (vad.Verdict, error) { return vad.Verdict{}, nil }
func (uninitialized) Reset()                                      {}
func (uninitialized) Close() error                                { return nil }

var _ vad.SessionHandle = uninitialized{}
