// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script Transcript results and inspect which segments were
// submitted for transcription. Gate blocks every call until a value is sent
// or the channel is closed, which lets tests hold a transcription in flight.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []mock.Result{{Transcript: stt.Transcript{Text: "hello"}}},
//	}
//	t, _ := p.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32

	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Provider is a mock implementation of stt.Provider.
//
// Results are consumed one per call; once exhausted, Default and Err are
// returned.
type Provider struct {
	mu sync.Mutex

	// Results is consumed one entry per Transcribe call.
	Results []Result

	// Default is returned once Results is exhausted.
	Default stt.Transcript

	// Err, if non-nil, is returned once Results is exhausted.
	Err error

	// Gate, if non-nil, makes Transcribe wait for a receive from it (or
	// ctx cancellation) before returning.
	Gate chan struct{}

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	p.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Samples: cp, SampleRate: sampleRate})
	gate := p.Gate
	var res Result
	if p.next < len(p.Results) {
		res = p.Results[p.next]
		p.next++
	} else {
		res = Result{Transcript: p.Default, Err: p.Err}
	}
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	return res.Transcript, res.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls and rewinds Results. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
