// Package audio holds the sample-level building blocks of the capture
// pipeline: the [Block] type produced by capture sources, channel and PCM
// conversion helpers, the band-limited [Resampler], the [FrameAccumulator]
// that slices the resampled stream into VAD frames, and the bounded
// [BlockQueue] that decouples the device callback from analysis.
//
// All samples are mono float32 in the range [-1, 1] unless a function says
// otherwise.
package audio

import "time"

const (
	// TargetSampleRate is the rate every analysis stage downstream of the
	// resampler operates on.
	TargetSampleRate = 16000

	// FrameSize is the number of target-rate samples in one analysis frame
	// (32 ms at 16 kHz).
	FrameSize = 512
)

// Block is one chunk of mono audio as delivered by a capture source.
// Blocks are owned by the queue until popped and by the analysis worker
// afterwards.
type Block struct {
	// Samples are mono float32 samples at SampleRate.
	Samples []float32

	// SampleRate is the device rate at capture time, in Hz.
	SampleRate int

	// CapturedAt is the wall-clock time the driver delivered the block.
	CapturedAt time.Time
}

// Duration returns the playback length of the block.
func (b Block) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// Format describes the sample rate and channel count of a device stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// SamplesDuration converts a sample count at rate into a duration.
// A non-positive rate yields zero.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
