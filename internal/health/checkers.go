package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/earshot/internal/resilience"
)

// ErrCaptureStopped is reported by [Capture] when capture should be running
// but is not, typically after the device was lost.
var ErrCaptureStopped = errors.New("capture stopped")

// CaptureState is the part of the listener that the capture check needs.
type CaptureState interface {
	Running() bool
}

// Capture returns a checker that fails when wanted reports that capture
// should be active but l is not running. A nil wanted means capture is
// always expected to run.
func Capture(l CaptureState, wanted func() bool) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if wanted != nil && !wanted() {
				return nil
			}
			if !l.Running() {
				return ErrCaptureStopped
			}
			return nil
		},
	}
}

// Pinger is implemented by stores that can probe their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store returns a checker named name that pings p.
func Store(name string, p Pinger) Checker {
	return Checker{
		Name:  name,
		Check: p.Ping,
	}
}

// Backends returns a checker that fails when every transcription backend
// reported by status has an open circuit breaker.
func Backends(name string, status func() []resilience.EntryStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			entries := status()
			open := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.State != resilience.StateOpen {
					return nil
				}
				open = append(open, e.Name)
			}
			if len(open) == 0 {
				return nil
			}
			return fmt.Errorf("all backends open: %s", strings.Join(open, ", "))
		},
	}
}
