// Package energy provides a pure-Go VAD engine that scores frames by their
// RMS level. It needs no model or native runtime, which makes it the
// default detector and a fallback when Silero is not compiled in.
//
// The RMS level in dBFS is mapped linearly onto [0, 1] between a floor and
// a ceiling. With the defaults (-60 dBFS to -20 dBFS) the standard 0.5
// threshold sits at -40 dBFS, an RMS of 0.01.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	// DefaultFloorDB is the level mapped to confidence 0.
	DefaultFloorDB = -60.0

	// DefaultCeilDB is the level mapped to confidence 1.
	DefaultCeilDB = -20.0
)

// Ensure Engine implements the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// Engine creates energy VAD sessions.
type Engine struct {
	floorDB float64
	ceilDB  float64
	alpha   float64
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithRange sets the dBFS levels mapped to confidence 0 and 1.
func WithRange(floorDB, ceilDB float64) Option {
	return func(e *Engine) {
		e.floorDB = floorDB
		e.ceilDB = ceilDB
	}
}

// WithSmoothing enables exponential smoothing of the confidence across
// frames. alpha is the weight of the newest frame in (0, 1]; 1 or 0
// disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) { e.alpha = alpha }
}

// New returns an energy Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{floorDB: DefaultFloorDB, ceilDB: DefaultCeilDB}
	for _, o := range opts {
		o(e)
	}
	if e.ceilDB <= e.floorDB {
		return nil, fmt.Errorf("energy vad: ceiling %.1f dB must be above floor %.1f dB", e.ceilDB, e.floorDB)
	}
	if e.alpha < 0 || e.alpha > 1 {
		return nil, fmt.Errorf("energy vad: smoothing alpha %.2f out of range [0, 1]", e.alpha)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %d", cfg.FrameSize)
	}
	return &session{
		engine:    e,
		frameSize: cfg.FrameSize,
		threshold: cfg.Threshold(),
	}, nil
}

type session struct {
	engine    *Engine
	frameSize int
	threshold float64

	smoothed float64
	primed   bool
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []float32) (vad.Verdict, error) {
	if s.closed {
		return vad.Verdict{}, nil
	}
	if len(frame) != s.frameSize {
		return vad.Verdict{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameSize)
	}

	conf := s.engine.confidence(audio.RMS(frame))
	if a := s.engine.alpha; a > 0 && a < 1 {
		if s.primed {
			conf = a*conf + (1-a)*s.smoothed
		}
		s.smoothed = conf
		s.primed = true
	}
	return vad.Classify(conf, s.threshold), nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.smoothed = 0
	s.primed = false
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

func (e *Engine) confidence(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	c := (db - e.floorDB) / (e.ceilDB - e.floorDB)
	return math.Max(0, math.Min(1, c))
}
