package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the segment to the first healthy provider. A provider
// error or an open breaker moves on to the next one; the same samples are
// offered to each.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, err
		}
		return p.Transcribe(ctx, samples, sampleRate)
	})
}

// Status reports the breaker state of every backend in failover order.
func (f *STTFallback) Status() []EntryStatus {
	return f.group.Status()
}
