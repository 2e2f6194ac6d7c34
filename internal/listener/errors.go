package listener

import (
	"errors"
	"fmt"
)

// Analysis stages reported in [AnalysisError].
const (
	StageResample   = "resample"
	StageAccumulate = "accumulate"
	StageVAD        = "vad"
	StageSegment    = "segment"
)

// ErrDeviceStopped is wrapped by the [DeviceError] raised when the driver
// reports that the device stopped delivering audio while running.
var ErrDeviceStopped = errors.New("listener: device stopped unexpectedly")

// DeviceError reports a failure to acquire or keep the capture device. It
// is fatal to the session: the listener is not running afterwards.
type DeviceError struct {
	// Op is the failed operation, "open" or "run".
	Op string

	// Device is the selector passed to Start. Empty means the system
	// default.
	Device string

	Err error
}

// Error implements error.
func (e *DeviceError) Error() string {
	dev := "default device"
	if e.Device != "" {
		dev = fmt.Sprintf("device %q", e.Device)
	}
	return fmt.Sprintf("listener: %s %s: %v", e.Op, dev, e.Err)
}

// Unwrap returns the driver error.
func (e *DeviceError) Unwrap() error { return e.Err }

// AnalysisError reports a failure while processing one block. The block is
// skipped and the analysis loop continues.
type AnalysisError struct {
	// Stage is one of the Stage constants.
	Stage string

	Err error
}

// Error implements error.
func (e *AnalysisError) Error() string {
	return fmt.Sprintf("listener: %s: %v", e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *AnalysisError) Unwrap() error { return e.Err }
