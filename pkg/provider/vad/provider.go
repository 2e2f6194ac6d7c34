// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g. Silero VAD or a plain
// energy gate) and surfaces it as a stateful, per-stream session. Each session
// keeps its own internal state (recurrent model state, smoothing history) so
// that independent audio streams can be analysed concurrently.
//
// VAD is synchronous: ProcessFrame returns immediately with a [Verdict], making
// it suitable for the analysis loop that feeds the segmenter. A frame must be
// classified well within its own duration (32 ms for 512 samples at 16 kHz) or
// the capture queue grows.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// DefaultSpeechThreshold is the confidence above which a frame counts as
// speech when Config.SpeechThreshold is zero.
const DefaultSpeechThreshold = 0.5

// ErrFrameSize is returned by ProcessFrame when a frame does not match the
// session's configured frame size.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. The pipeline always uses 16000.
	SampleRate int

	// FrameSize is the number of samples in each frame. Most neural VAD
	// models operate on a fixed window (512 samples for Silero at 16 kHz).
	FrameSize int

	// SpeechThreshold is the confidence strictly above which a frame is
	// classified as speech. Range: [0.0, 1.0]. Zero selects
	// DefaultSpeechThreshold.
	SpeechThreshold float64
}

// Threshold returns SpeechThreshold, or DefaultSpeechThreshold when unset.
func (c Config) Threshold() float64 {
	if c.SpeechThreshold <= 0 {
		return DefaultSpeechThreshold
	}
	return c.SpeechThreshold
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies one frame of mono float32 samples at the
	// configured SampleRate. It must not retain or modify frame.
	//
	// A detector that is not initialized (model missing, runtime not
	// loaded) reports a silent Verdict and a nil error rather than failing.
	ProcessFrame(frame []float32) (Verdict, error)

	// Reset clears all accumulated detection state without closing the
	// session. Called when capture restarts so stale state from a previous
	// stream does not bias the next one.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept frames.
	//
	// Returns an error if the configuration is invalid (e.g. unsupported sample
	// rate or frame size) or if the engine cannot allocate resources for the
	// session.
	NewSession(cfg Config) (SessionHandle, error)
}
