// Package capture defines the boundary between the audio driver and the
// speech pipeline. A [Source] enumerates input devices and opens a
// [Stream] that delivers mono [audio.Block] values from the driver's
// real-time callback.
//
// Implementations must keep the callback path short: decode, downmix, copy
// and hand the block to [Handler.OnBlock]. They must not log or block on
// that path.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrDeviceNotFound is returned by Open when the configured device selector
// matches no capture device.
var ErrDeviceNotFound = errors.New("capture: device not found")

// Device describes one capture device.
type Device struct {
	// ID is the driver-specific identifier, stable across enumerations.
	ID string

	// Name is the human-readable device name.
	Name string

	// Default is true for the system default capture device.
	Default bool
}

// Status reports a driver-side anomaly that does not carry audio.
type Status int

const (
	// StatusOverrun means the driver discarded input because the callback
	// fell behind.
	StatusOverrun Status = iota + 1

	// StatusStopped means the device stopped delivering audio without a
	// Close call, e.g. because it was unplugged.
	StatusStopped
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusOverrun:
		return "overrun"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config selects and shapes a capture stream.
type Config struct {
	// Device selects the input device by ID, exact name or enumeration
	// index. Empty selects the system default.
	Device string

	// BlockSize is the requested number of frames per driver callback.
	// Zero lets the driver decide.
	BlockSize int

	// SampleRate requests a device rate. Zero opens the device at its
	// native rate.
	SampleRate int

	// Channels requests a channel count. Zero means mono. Multi-channel
	// input is averaged to mono before delivery.
	Channels int
}

// Handler receives stream events. Both functions are invoked on the
// driver's callback thread and must return quickly.
type Handler struct {
	// OnBlock receives each captured block. The block is owned by the
	// callee.
	OnBlock func(audio.Block)

	// OnStatus receives driver anomalies. May be nil.
	OnStatus func(Status)
}

// Stream is an open, running capture stream.
type Stream interface {
	// Format returns the negotiated device format before downmixing.
	Format() audio.Format

	// Close stops the stream and releases the device. Close is
	// idempotent; no callbacks fire after it returns.
	Close() error
}

// Source opens capture streams.
type Source interface {
	// Devices lists the available capture devices.
	Devices(ctx context.Context) ([]Device, error)

	// Open acquires the device selected by cfg and starts delivering
	// blocks to h.
	Open(ctx context.Context, cfg Config, h Handler) (Stream, error)
}
