// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a local whisper.cpp server,
// an in-process whisper.cpp model, the OpenAI audio API or Deepgram) and
// exposes a uniform batch interface: one call transcribes one finished speech
// segment. Segmentation happens upstream, so providers never see partial
// utterances.
//
// Transcribe may block for hundreds of milliseconds up to several seconds.
// Callers run it off the analysis goroutine and bound it with ctx.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe is called without samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe converts mono float32 samples at sampleRate into text.
	// The samples must not be modified or retained after the call returns.
	//
	// An empty Transcript.Text with a nil error means the backend heard
	// nothing worth reporting.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)

// Transcribe calls f.
func (f ProviderFunc) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error) {
	return f(ctx, samples, sampleRate)
}
