package transcript

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemLog created with a non-positive limit.
const DefaultMaxEntries = 1000

// MemLog is an in-memory Log holding at most a fixed number of entries.
// When full, the oldest entry is evicted whether or not it was drained.
type MemLog struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	seq     uint64
	now     func() time.Time
}

var _ Log = (*MemLog)(nil)

// NewMemLog returns an empty MemLog bounded to maxEntries.
func NewMemLog(maxEntries int) *MemLog {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemLog{max: maxEntries, now: time.Now}
}

// Append implements Log.
func (l *MemLog) Append(_ context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	e.Drained = false
	if e.At.IsZero() {
		e.At = l.now()
	}
	if len(l.entries) == l.max {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Pending implements Log.
func (l *MemLog) Pending(_ context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending(false), nil
}

// Drain implements Log.
func (l *MemLog) Drain(_ context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending(true), nil
}

// Last implements Log.
func (l *MemLog) Last(_ context.Context) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return l.entries[len(l.entries)-1], nil
}

// Clear implements Log.
func (l *MemLog) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending(true)
	return nil
}

// Len returns the number of stored entries, drained or not.
func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pending collects undrained entries and optionally marks them drained.
// Callers hold mu.
func (l *MemLog) pending(mark bool) []Entry {
	out := []Entry{}
	for i := range l.entries {
		if l.entries[i].Drained {
			continue
		}
		out = append(out, l.entries[i])
		if mark {
			l.entries[i].Drained = true
		}
	}
	return out
}
