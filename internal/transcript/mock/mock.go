// Package mock provides a test double for transcript.Log.
//
// Log records every method call and stores entries in an internal
// transcript.MemLog, so it behaves like a real log unless an *Err field is
// set. All methods are safe for concurrent use.
//
//	log := &mock.Log{AppendErr: errors.New("disk full")}
//	// inject log into the system under test …
//	if got := log.CallCount("Append"); got != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/internal/transcript"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Log is a configurable test double for transcript.Log.
type Log struct {
	mu    sync.Mutex
	calls []Call
	mem   *transcript.MemLog

	AppendErr  error
	PendingErr error
	DrainErr   error
	LastErr    error
	ClearErr   error
}

var _ transcript.Log = (*Log)(nil)

func (l *Log) record(method string, args ...any) *transcript.MemLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Method: method, Args: args})
	if l.mem == nil {
		l.mem = transcript.NewMemLog(0)
	}
	return l.mem
}

func (l *Log) errFor(p *error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *p
}

// Append implements transcript.Log.
func (l *Log) Append(ctx context.Context, e transcript.Entry) (transcript.Entry, error) {
	mem := l.record("Append", e)
	if err := l.errFor(&l.AppendErr); err != nil {
		return transcript.Entry{}, err
	}
	return mem.Append(ctx, e)
}

// Pending implements transcript.Log.
func (l *Log) Pending(ctx context.Context) ([]transcript.Entry, error) {
	mem := l.record("Pending")
	if err := l.errFor(&l.PendingErr); err != nil {
		return nil, err
	}
	return mem.Pending(ctx)
}

// Drain implements transcript.Log.
func (l *Log) Drain(ctx context.Context) ([]transcript.Entry, error) {
	mem := l.record("Drain")
	if err := l.errFor(&l.DrainErr); err != nil {
		return nil, err
	}
	return mem.Drain(ctx)
}

// Last implements transcript.Log.
func (l *Log) Last(ctx context.Context) (transcript.Entry, error) {
	mem := l.record("Last")
	if err := l.errFor(&l.LastErr); err != nil {
		return transcript.Entry{}, err
	}
	return mem.Last(ctx)
}

// Clear implements transcript.Log.
func (l *Log) Clear(ctx context.Context) error {
	mem := l.record("Clear")
	if err := l.errFor(&l.ClearErr); err != nil {
		return err
	}
	return mem.Clear(ctx)
}

// Calls returns a copy of the recorded calls.
func (l *Log) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// CallCount returns how often method was called.
func (l *Log) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
