// Package mock provides test doubles for the capture package interfaces.
//
// Source records Open calls and hands back a Stream that tests drive by
// hand: Emit pushes a block through the registered handler exactly as a
// driver callback would, and EmitStatus reports a driver anomaly.
//
// Example:
//
//	src := &mock.Source{Format: audio.Format{SampleRate: 48000, Channels: 1}}
//	l := listener.New(src, vadEngine, dispatcher)
//	_ = l.Start(ctx)
//	src.LastStream().Emit(audio.Block{Samples: samples, SampleRate: 48000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/capture"
)

// OpenCall records a single invocation of Source.Open.
type OpenCall struct {
	Cfg capture.Config
}

// Source is a mock implementation of capture.Source.
type Source struct {
	mu sync.Mutex

	// DeviceList is returned by Devices.
	DeviceList []capture.Device

	// DevicesErr, if non-nil, is returned by Devices.
	DevicesErr error

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Format is reported by streams returned from Open. Zero means
	// 16 kHz mono.
	Format audio.Format

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	streams []*Stream
}

// Devices returns DeviceList, DevicesErr.
func (s *Source) Devices(_ context.Context) ([]capture.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeviceList, s.DevicesErr
}

// Open records the call and returns a new Stream bound to h, or OpenErr.
func (s *Source) Open(_ context.Context, cfg capture.Config, h capture.Handler) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Cfg: cfg})
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	f := s.Format
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: audio.TargetSampleRate, Channels: 1}
	}
	st := &Stream{format: f, handler: h}
	s.streams = append(s.streams, st)
	return st, nil
}

// LastStream returns the most recently opened stream, or nil.
func (s *Source) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

// OpenCount returns the number of Open calls. Thread-safe.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)

// Stream is a mock implementation of capture.Stream.
type Stream struct {
	mu      sync.Mutex
	format  audio.Format
	handler capture.Handler
	closed  bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Format returns the format given by the Source.
func (st *Stream) Format() audio.Format { return st.format }

// Emit delivers b to the handler unless the stream is closed. It reports
// whether the block was delivered.
func (st *Stream) Emit(b audio.Block) bool {
	st.mu.Lock()
	closed := st.closed
	h := st.handler.OnBlock
	st.mu.Unlock()
	if closed || h == nil {
		return false
	}
	if b.SampleRate == 0 {
		b.SampleRate = st.format.SampleRate
	}
	h(b)
	return true
}

// EmitStatus delivers s to the status handler unless the stream is closed.
func (st *Stream) EmitStatus(s capture.Status) {
	st.mu.Lock()
	closed := st.closed
	h := st.handler.OnStatus
	st.mu.Unlock()
	if closed || h == nil {
		return
	}
	h(s)
}

// Closed reports whether Close has been called.
func (st *Stream) Closed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Close records the call and returns CloseErr.
func (st *Stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.CloseCallCount++
	st.closed = true
	return st.CloseErr
}

// Ensure Stream implements capture.Stream at compile time.
var _ capture.Stream = (*Stream)(nil)
