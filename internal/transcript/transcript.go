// Package transcript accumulates delivered transcripts until a client drains
// them, and optionally corrects known vocabulary before they are stored.
//
// A [Log] keeps every appended [Entry] in order. Entries are pending until
// [Log.Drain] returns them or [Log.Clear] discards them; [Log.Last] keeps
// reporting the most recent entry either way. [MemLog] is the in-process
// implementation; package postgres persists entries across restarts.
//
// Implementations must be safe for concurrent use.
package transcript

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Last when the log holds no entry.
var ErrNotFound = errors.New("transcript: no entries")

// Entry is one delivered transcript.
type Entry struct {
	// Seq is assigned by the log on Append and increases monotonically.
	Seq uint64

	// Text is the transcribed text after vocabulary correction.
	Text string

	// Mode is the transcription mode that produced the text.
	Mode string

	// Provider names the backend that produced the text.
	Provider string

	// At is the delivery time. Append fills it when zero.
	At time.Time

	// AudioDuration is the length of the transcribed segment.
	AudioDuration time.Duration

	// Drained is set once the entry was returned by Drain or discarded by
	// Clear.
	Drained bool
}

// Log stores transcripts until they are drained.
type Log interface {
	// Append stores e and returns it with Seq and At assigned.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Pending returns the entries not yet drained, oldest first.
	Pending(ctx context.Context) ([]Entry, error)

	// Drain returns the pending entries, oldest first, and marks them
	// drained.
	Drain(ctx context.Context) ([]Entry, error)

	// Last returns the most recent entry, drained or not. It returns
	// ErrNotFound when the log is empty.
	Last(ctx context.Context) (Entry, error)

	// Clear marks all pending entries drained without returning them.
	Clear(ctx context.Context) error
}

// Join concatenates the text of entries with single spaces.
func Join(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
