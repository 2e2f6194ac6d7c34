// Package segment turns a stream of per-frame speech verdicts into bounded
// speech segments.
//
// A [Machine] is either Idle or Active. Speech in Idle opens a segment;
// while Active every frame is recorded, including silent ones, so short
// pauses do not fragment an utterance. When the run of consecutive silent
// frames exceeds the silence threshold the segment closes. Closed segments
// shorter than the minimum length are discarded; the rest are returned for
// transcription.
//
// A Machine is owned by a single goroutine and is not safe for concurrent
// use.
package segment

import (
	"time"
)

const (
	// DefaultSilenceThreshold is the number of consecutive silent frames a
	// segment tolerates; the next silent frame closes it. 20 frames of 512
	// samples at 16 kHz is 640 ms.
	DefaultSilenceThreshold = 20

	// DefaultMinSpeechSamples is the shortest segment that is dispatched:
	// one second at 16 kHz.
	DefaultMinSpeechSamples = 16000
)

// State is the state of a Machine.
type State int

const (
	// Idle means no segment is open.
	Idle State = iota

	// Active means a segment is open and recording.
	Active
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Outcome reports what a Process or Stop call did with the open segment.
type Outcome int

const (
	// None means no segment was closed.
	None Outcome = iota

	// Ready means a segment closed and is long enough to transcribe.
	Ready

	// Discarded means a segment closed but was shorter than the minimum
	// length, or capture stopped while it was open.
	Discarded
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case None:
		return "none"
	case Ready:
		return "ready"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// CloseReason says why a segment closed.
type CloseReason int

const (
	// ClosedBySilence means the hangover exceeded the silence threshold.
	ClosedBySilence CloseReason = iota + 1

	// ClosedByLength means the segment hit MaxSegmentSamples.
	ClosedByLength

	// ClosedByStop means capture stopped while the segment was open.
	ClosedByStop
)

// String returns the name of the reason.
func (r CloseReason) String() string {
	switch r {
	case ClosedBySilence:
		return "silence"
	case ClosedByLength:
		return "max_length"
	case ClosedByStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Config holds the segmentation rules.
type Config struct {
	// SilenceThreshold is the number of consecutive silent frames kept as
	// hangover. The segment closes on the frame that makes the run exceed
	// it.
	SilenceThreshold int

	// MinSpeechSamples is the minimum closed segment length, in samples,
	// that is returned as Ready.
	MinSpeechSamples int

	// MaxSegmentSamples force-closes a segment once it holds this many
	// samples. Zero disables the cap.
	MaxSegmentSamples int

	// FlushOnStop makes Stop close an open segment through the normal
	// length rule instead of discarding it.
	FlushOnStop bool

	// SampleRate is the rate of the frames, used for offsets and
	// durations.
	SampleRate int
}

// DefaultConfig returns the standard rules for 16 kHz, 512-sample frames.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: DefaultSilenceThreshold,
		MinSpeechSamples: DefaultMinSpeechSamples,
		SampleRate:       16000,
	}
}

// Segment is one closed utterance.
type Segment struct {
	// Seq numbers Ready segments from 1 within one Machine lifetime.
	// Discarded segments have Seq 0.
	Seq uint64

	// Samples is the concatenation of all frames of the segment, including
	// trailing hangover.
	Samples []float32

	// SampleRate of Samples.
	SampleRate int

	// Frames is the number of frames in the segment.
	Frames int

	// SpeechFrames is the number of frames classified as speech.
	SpeechFrames int

	// TrailingSilence is the number of silent frames at the end.
	TrailingSilence int

	// Offset is the stream position of the first frame, measured from the
	// start of the Machine.
	Offset time.Duration

	// Reason says why the segment closed.
	Reason CloseReason
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(s.Samples)) * int64(time.Second) / int64(s.SampleRate))
}

// Stats are cumulative counters of a Machine.
type Stats struct {
	Frames            uint64
	SpeechFrames      uint64
	SegmentsReady     uint64
	SegmentsDiscarded uint64
}

// Machine is the segmentation state machine.
type Machine struct {
	cfg Config

	state      State
	silenceRun int

	frames       [][]float32
	samples      int
	speechFrames int
	startSample  int64

	streamSamples int64
	seq           uint64
	stats         Stats
}

// New returns an Idle Machine. Zero SilenceThreshold, MinSpeechSamples and
// SampleRate fields take their defaults.
func New(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.MinSpeechSamples <= 0 {
		cfg.MinSpeechSamples = def.MinSpeechSamples
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	return &Machine{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SilenceRun returns the number of consecutive silent frames recorded in
// the open segment.
func (m *Machine) SilenceRun() int { return m.silenceRun }

// Buffered returns the number of samples in the open segment.
func (m *Machine) Buffered() int { return m.samples }

// Stats returns cumulative counters.
func (m *Machine) Stats() Stats { return m.stats }

// Process feeds one frame and its verdict. The Machine takes ownership of
// frame. When the frame closes a segment, the segment and its outcome are
// returned; otherwise the outcome is None.
func (m *Machine) Process(frame []float32, speech bool) (Segment, Outcome) {
	pos := m.streamSamples
	m.streamSamples += int64(len(frame))
	m.stats.Frames++
	if speech {
		m.stats.SpeechFrames++
	}

	switch m.state {
	case Idle:
		if !speech {
			return Segment{}, None
		}
		m.state = Active
		m.silenceRun = 0
		m.startSample = pos
		m.appendFrame(frame, true)

	case Active:
		if speech {
			m.silenceRun = 0
			m.appendFrame(frame, true)
		} else {
			m.appendFrame(frame, false)
			m.silenceRun++
			if m.silenceRun > m.cfg.SilenceThreshold {
				seg, out := m.close(ClosedBySilence)
				m.state = Idle
				m.silenceRun = 0
				return seg, out
			}
		}
	}

	if m.cfg.MaxSegmentSamples > 0 && m.samples >= m.cfg.MaxSegmentSamples {
		seg, out := m.close(ClosedByLength)
		m.startSample = m.streamSamples
		return seg, out
	}
	return Segment{}, None
}

// Stop ends the stream. An open segment is discarded, or closed through
// the length rule when FlushOnStop is set. The Machine is Idle afterwards
// and keeps its counters; call Reset to start a new stream.
func (m *Machine) Stop() (Segment, Outcome) {
	if m.state != Active {
		return Segment{}, None
	}
	var (
		seg Segment
		out Outcome
	)
	if m.cfg.FlushOnStop && m.samples > 0 {
		seg, out = m.close(ClosedByStop)
	} else {
		seg = m.build(ClosedByStop)
		out = Discarded
		m.stats.SegmentsDiscarded++
		m.clear()
	}
	m.state = Idle
	m.silenceRun = 0
	return seg, out
}

// Reset returns the Machine to a fresh Idle state, dropping any open
// segment and zeroing counters and stream position.
func (m *Machine) Reset() {
	m.clear()
	m.state = Idle
	m.silenceRun = 0
	m.streamSamples = 0
	m.seq = 0
	m.stats = Stats{}
}

func (m *Machine) appendFrame(frame []float32, speech bool) {
	m.frames = append(m.frames, frame)
	m.samples += len(frame)
	if speech {
		m.speechFrames++
	}
}

// close finalizes the open segment and applies the minimum-length rule.
func (m *Machine) close(reason CloseReason) (Segment, Outcome) {
	seg := m.build(reason)
	m.clear()
	if len(seg.Samples) < m.cfg.MinSpeechSamples {
		m.stats.SegmentsDiscarded++
		return seg, Discarded
	}
	m.seq++
	seg.Seq = m.seq
	m.stats.SegmentsReady++
	return seg, Ready
}

func (m *Machine) build(reason CloseReason) Segment {
	samples := make([]float32, 0, m.samples)
	for _, f := range m.frames {
		samples = append(samples, f...)
	}
	trailing := m.silenceRun
	if trailing > len(m.frames) {
		trailing = len(m.frames)
	}
	return Segment{
		Samples:         samples,
		SampleRate:      m.cfg.SampleRate,
		Frames:          len(m.frames),
		SpeechFrames:    m.speechFrames,
		TrailingSilence: trailing,
		Offset:          time.Duration(m.startSample * int64(time.Second) / int64(m.cfg.SampleRate)),
		Reason:          reason,
	}
}

func (m *Machine) clear() {
	clear(m.frames)
	m.frames = m.frames[:0]
	m.samples = 0
	m.speechFrames = 0
}
