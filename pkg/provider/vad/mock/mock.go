// Package mock provides scriptable [vad.Engine] and [vad.SessionHandle]
// doubles for pipeline tests.
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// NewSessionCall is one recorded Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine hands out Session (or a fresh silent [Session] when nil) and
// records the configs it was asked for.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu              sync.Mutex
	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// NewSessionCount reports how many sessions were requested.
func (e *Engine) NewSessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewSessionCalls)
}

// ProcessFrameCall is one recorded frame.
type ProcessFrameCall struct {
	Frame []float32
}

// Session classifies frames with Func. Without Func every frame is silence.
// ProcessFrameErr and Panic make every frame fail, which exercises the
// analysis error paths of the listener.
type Session struct {
	Func            func(frame []float32) vad.Verdict
	ProcessFrameErr error
	Panic           string
	CloseErr        error

	mu                sync.Mutex
	ProcessFrameCalls []ProcessFrameCall
	ResetCallCount    int
	CloseCallCount    int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements [vad.SessionHandle]. The frame is copied before
// it is recorded.
func (s *Session) ProcessFrame(frame []float32) (vad.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame = slices.Clone(frame)
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{Frame: frame})
	if s.Panic != "" {
		panic(s.Panic)
	}
	if s.ProcessFrameErr != nil {
		return vad.Verdict{}, s.ProcessFrameErr
	}
	if s.Func == nil {
		return vad.Verdict{}, nil
	}
	return s.Func(frame), nil
}

// FrameCount reports how many frames were classified.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ProcessFrameCalls)
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}
