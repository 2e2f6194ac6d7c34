package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Downmix averages interleaved multi-channel float32 samples into mono.
// A channel count of 1 (or less) returns a copy of the input. Trailing
// samples that do not form a complete frame are ignored.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		base := i * channels
		for c := range channels {
			sum += interleaved[base+c]
		}
		out[i] = sum * inv
	}
	return out
}

// DecodeFloat32LE decodes little-endian IEEE-754 float32 samples as
// delivered by capture drivers. Trailing bytes that do not form a full
// sample are ignored.
func DecodeFloat32LE(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// Float32ToPCM16 converts float32 samples to little-endian int16 PCM.
// Samples are clamped to [-1, 1] before scaling.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1, 1). Dividing by 32768 keeps the full int16 range inside [-1, 1].
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := int32(math.Round(float64(s) * 32767))
	return int16(v)
}

// RMS returns the root mean square of the samples, or 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
