package audio

import (
	"math"
	"sync"
)

// Quality selects the interpolation kernel used by a [Resampler].
type Quality int

const (
	// QualitySinc is a Hann-windowed sinc (linear-phase, band-limited)
	// polyphase filter. It is the default.
	QualitySinc Quality = iota

	// QualityLinear interpolates linearly between neighbouring samples.
	// Cheaper, but aliases when downsampling.
	QualityLinear
)

// String returns the configuration name of q.
func (q Quality) String() string {
	switch q {
	case QualitySinc:
		return "sinc"
	case QualityLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// ParseQuality maps a configuration name to a Quality. The empty string
// selects [QualitySinc].
func ParseQuality(s string) (Quality, bool) {
	switch s {
	case "", "sinc":
		return QualitySinc, true
	case "linear":
		return QualityLinear, true
	default:
		return 0, false
	}
}

// defaultHalfTaps is the number of sinc zero crossings on each side of the
// kernel centre.
const defaultHalfTaps = 16

// maxPhases bounds the size of a cached polyphase table. Rate pairs that
// reduce to more phases are filtered with kernels computed on the fly.
const maxPhases = 4096

// Resampler converts blocks between sample rates. Every block is resampled
// independently: there is no filter history across calls, so the first and
// last few output samples of a block see zero padding. Output is fully
// determined by the input block and the two rates.
//
// The zero value uses [QualitySinc] and is safe for concurrent use.
type Resampler struct {
	// Quality selects the kernel.
	Quality Quality

	// HalfTaps overrides the number of sinc zero crossings per side.
	// Zero means 16.
	HalfTaps int

	mu     sync.Mutex
	tables map[[2]int]*polyphase
}

// Resample resamples block from sourceRate to targetRate using a zero-value
// [Resampler].
func Resample(block []float32, sourceRate, targetRate int) []float32 {
	return defaultResampler.Resample(block, sourceRate, targetRate)
}

var defaultResampler Resampler

// OutputLen returns the number of samples Resample produces for n input
// samples: round(n * targetRate / sourceRate).
func OutputLen(n, sourceRate, targetRate int) int {
	if n <= 0 || sourceRate <= 0 || targetRate <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(targetRate) / float64(sourceRate)))
}

// Resample converts block from sourceRate to targetRate. When the rates are
// equal the result is an exact copy of block. Non-positive rates yield an
// empty result.
func (r *Resampler) Resample(block []float32, sourceRate, targetRate int) []float32 {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil
	}
	if sourceRate == targetRate {
		out := make([]float32, len(block))
		copy(out, block)
		return out
	}
	m := OutputLen(len(block), sourceRate, targetRate)
	if m == 0 {
		return nil
	}
	if r.Quality == QualityLinear {
		return resampleLinear(block, sourceRate, targetRate, m)
	}
	return r.table(sourceRate, targetRate).apply(block, m)
}

func (r *Resampler) table(sourceRate, targetRate int) *polyphase {
	key := [2]int{sourceRate, targetRate}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.tables[key]; ok {
		return p
	}
	half := r.HalfTaps
	if half <= 0 {
		half = defaultHalfTaps
	}
	p := newPolyphase(sourceRate, targetRate, half)
	if r.tables == nil {
		r.tables = make(map[[2]int]*polyphase)
	}
	r.tables[key] = p
	return p
}

func resampleLinear(block []float32, sourceRate, targetRate, m int) []float32 {
	out := make([]float32, m)
	ratio := float64(sourceRate) / float64(targetRate)
	last := len(block) - 1
	for i := range m {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = block[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = block[idx]*(1-frac) + block[idx+1]*frac
	}
	return out
}

// polyphase holds the windowed-sinc coefficients for one rate pair. With
// up/down the reduced ratio targetRate/sourceRate, output sample i sits at
// input position i*down/up; its fractional part takes one of up phases.
type polyphase struct {
	up, down int

	// width is the number of input taps on each side of the position.
	width int

	// cutoff is the normalized low-pass cutoff relative to the input
	// Nyquist frequency.
	cutoff float64

	halfTaps int

	// coeffs[phase][k] weights input sample base-width+1+k. Nil when the
	// table would exceed maxPhases.
	coeffs [][]float64
}

func newPolyphase(sourceRate, targetRate, halfTaps int) *polyphase {
	g := gcd(sourceRate, targetRate)
	p := &polyphase{
		up:       targetRate / g,
		down:     sourceRate / g,
		cutoff:   math.Min(1, float64(targetRate)/float64(sourceRate)),
		halfTaps: halfTaps,
	}
	p.width = int(math.Ceil(float64(halfTaps) / p.cutoff))
	if p.up <= maxPhases {
		p.coeffs = make([][]float64, p.up)
		for ph := range p.up {
			p.coeffs[ph] = p.kernelAt(float64(ph) / float64(p.up))
		}
	}
	return p
}

// kernelAt returns the tap weights for a fractional input position frac in
// [0, 1).
func (p *polyphase) kernelAt(frac float64) []float64 {
	taps := make([]float64, 2*p.width)
	span := float64(p.halfTaps) / p.cutoff
	for k := range taps {
		x := frac - float64(k-p.width+1)
		taps[k] = p.cutoff * sinc(p.cutoff*x) * hann(x/span)
	}
	return taps
}

func (p *polyphase) apply(in []float32, m int) []float32 {
	out := make([]float32, m)
	n := len(in)
	for i := range m {
		num := i * p.down
		base := num / p.up
		ph := num % p.up

		var taps []float64
		if p.coeffs != nil {
			taps = p.coeffs[ph]
		} else {
			taps = p.kernelAt(float64(ph) / float64(p.up))
		}

		start := base - p.width + 1
		var acc float64
		for k, w := range taps {
			j := start + k
			if j < 0 || j >= n {
				continue
			}
			acc += float64(in[j]) * w
		}
		out[i] = float32(acc)
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// hann is a Hann window over u in [-1, 1], zero outside.
func hann(u float64) float64 {
	if u <= -1 || u >= 1 {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*u))
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
