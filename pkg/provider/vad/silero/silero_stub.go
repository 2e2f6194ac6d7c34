//go:build !silero

package silero

import (
	"errors"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrUnavailable indicates the Silero backend is not compiled in.
var ErrUnavailable = errors.New("silero: backend not available (build without -tags silero)")

// Available reports whether the Silero backend is compiled in.
func Available() bool { return false }

// Ensure Engine implements the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// Engine is the placeholder engine used when the backend is not compiled
// in. Its sessions report silence.
type Engine struct {
	libPath string
	err     error
}

// New returns an engine whose sessions report silence. Err returns
// ErrUnavailable.
func New(_ string, opts ...Option) *Engine {
	e := &Engine{err: ErrUnavailable}
	for _, o := range opts {
		o(e)
	}
	logger().Warn("silero vad not compiled in, frames will be reported as silence")
	return e
}

// Err returns ErrUnavailable.
func (e *Engine) Err() error { return e.err }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return uninitialized{}, nil
}
