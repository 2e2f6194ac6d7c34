package segment_test

import (
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/segment"
)

const frameSize = 512

// frame returns a frame of n samples, each set to v so segments can be
// checked for content and order.
func frame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

type step struct {
	n      int
	speech bool
}

func speech(count int) []step  { return repeat(count, true) }
func silence(count int) []step { return repeat(count, false) }

func repeat(count int, sp bool) []step {
	s := make([]step, count)
	for i := range s {
		s[i] = step{n: frameSize, speech: sp}
	}
	return s
}

func seq(parts ...[]step) []step {
	var out []step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type closed struct {
	at  int
	seg segment.Segment
	out segment.Outcome
}

func run(m *segment.Machine, steps []step) []closed {
	var got []closed
	for i, s := range steps {
		v := float32(0)
		if s.speech {
			v = 1
		}
		seg, out := m.Process(frame(s.n, v), s.speech)
		if out != segment.None {
			got = append(got, closed{at: i, seg: seg, out: out})
		}
	}
	return got
}

func TestAllSilenceNeverCloses(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 20, 21, 1000} {
		m := segment.New(segment.DefaultConfig())
		if got := run(m, silence(n)); len(got) != 0 {
			t.Errorf("%d silent frames closed %d segments", n, len(got))
		}
		if m.State() != segment.Idle || m.Buffered() != 0 {
			t.Errorf("%d silent frames: state=%s buffered=%d, want idle/0", n, m.State(), m.Buffered())
		}
		if seg, out := m.Stop(); out != segment.None || seg.Frames != 0 {
			t.Errorf("Stop after silence = %v, want none", out)
		}
	}
}

func TestMinimumLengthBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		firstLen int
		want     segment.Outcome
	}{
		{"exactly minimum", 16000 - 21*frameSize, segment.Ready},
		{"one sample short", 16000 - 21*frameSize - 1, segment.Discarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := segment.New(segment.DefaultConfig())
			steps := seq([]step{{n: tt.firstLen, speech: true}}, silence(21))
			got := run(m, steps)
			if len(got) != 1 {
				t.Fatalf("closed %d segments, want 1", len(got))
			}
			if got[0].out != tt.want {
				t.Errorf("outcome = %s, want %s (len %d)", got[0].out, tt.want, len(got[0].seg.Samples))
			}
			if tt.want == segment.Ready && len(got[0].seg.Samples) != 16000 {
				t.Errorf("len = %d, want 16000", len(got[0].seg.Samples))
			}
		})
	}
}

func TestClosesWhenSilenceRunFirstExceedsThreshold(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	for i, s := range seq(speech(12), silence(20)) {
		v := float32(0)
		if s.speech {
			v = 1
		}
		if _, out := m.Process(frame(s.n, v), s.speech); out != segment.None {
			t.Fatalf("frame %d closed the segment early (%s)", i, out)
		}
	}
	if m.State() != segment.Active || m.SilenceRun() != 20 {
		t.Fatalf("after 20 silent frames: state=%s run=%d, want active/20", m.State(), m.SilenceRun())
	}

	seg, out := m.Process(frame(frameSize, 0), false)
	if out != segment.Ready {
		t.Fatalf("21st silent frame outcome = %s, want ready", out)
	}
	if seg.Frames != 33 || seg.SpeechFrames != 12 || seg.TrailingSilence != 21 {
		t.Errorf("segment frames=%d speech=%d trailing=%d, want 33/12/21", seg.Frames, seg.SpeechFrames, seg.TrailingSilence)
	}
	if len(seg.Samples) != 33*frameSize {
		t.Errorf("len = %d, want %d", len(seg.Samples), 33*frameSize)
	}
	if seg.Reason != segment.ClosedBySilence {
		t.Errorf("reason = %s, want silence", seg.Reason)
	}
	if m.State() != segment.Idle || m.SilenceRun() != 0 || m.Buffered() != 0 {
		t.Errorf("after close: state=%s run=%d buffered=%d, want idle/0/0", m.State(), m.SilenceRun(), m.Buffered())
	}
}

func TestShortPauseStaysInSegment(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	got := run(m, seq(speech(10), silence(20), speech(10), silence(21)))
	if len(got) != 1 {
		t.Fatalf("closed %d segments, want 1", len(got))
	}
	seg := got[0].seg
	if seg.Frames != 61 || seg.SpeechFrames != 20 {
		t.Errorf("frames=%d speech=%d, want 61/20", seg.Frames, seg.SpeechFrames)
	}

	// Content must be in order: 10 speech, 20 pause, 10 speech, 21 hangover.
	wantVal := func(frameIdx int) float32 {
		if frameIdx < 10 || (frameIdx >= 30 && frameIdx < 40) {
			return 1
		}
		return 0
	}
	for i, s := range seg.Samples {
		if want := wantVal(i / frameSize); s != want {
			t.Fatalf("sample %d (frame %d) = %v, want %v", i, i/frameSize, s, want)
		}
	}
}

func TestIdleSilenceIsNotBuffered(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	got := run(m, seq(silence(50), speech(40), silence(21)))
	if len(got) != 1 {
		t.Fatalf("closed %d segments, want 1", len(got))
	}
	if got[0].seg.Frames != 61 {
		t.Errorf("frames = %d, want 61 (leading silence must not be kept)", got[0].seg.Frames)
	}
	wantOffset := time.Duration(50*frameSize) * time.Second / 16000
	if got[0].seg.Offset != wantOffset {
		t.Errorf("offset = %v, want %v", got[0].seg.Offset, wantOffset)
	}
}

func TestSeqCountsReadySegments(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	got := run(m, seq(
		speech(40), silence(21), // ready
		speech(2), silence(21), // discarded: 23 frames < 16000 samples
		speech(40), silence(21), // ready
	))
	if len(got) != 3 {
		t.Fatalf("closed %d segments, want 3", len(got))
	}
	wantOut := []segment.Outcome{segment.Ready, segment.Discarded, segment.Ready}
	wantSeq := []uint64{1, 0, 2}
	for i := range got {
		if got[i].out != wantOut[i] || got[i].seg.Seq != wantSeq[i] {
			t.Errorf("segment %d: outcome=%s seq=%d, want %s/%d", i, got[i].out, got[i].seg.Seq, wantOut[i], wantSeq[i])
		}
	}
	st := m.Stats()
	if st.SegmentsReady != 2 || st.SegmentsDiscarded != 1 || st.SpeechFrames != 82 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStopDiscardsOpenSegment(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	if got := run(m, speech(100)); len(got) != 0 {
		t.Fatalf("closed %d segments during speech", len(got))
	}
	seg, out := m.Stop()
	if out != segment.Discarded || seg.Reason != segment.ClosedByStop {
		t.Errorf("Stop = %s/%s, want discarded/stop", out, seg.Reason)
	}
	if m.State() != segment.Idle || m.Buffered() != 0 {
		t.Errorf("after Stop: state=%s buffered=%d", m.State(), m.Buffered())
	}
	if _, out := m.Stop(); out != segment.None {
		t.Errorf("second Stop = %s, want none", out)
	}
}

func TestFlushOnStop(t *testing.T) {
	t.Parallel()

	cfg := segment.DefaultConfig()
	cfg.FlushOnStop = true

	m := segment.New(cfg)
	run(m, speech(40))
	seg, out := m.Stop()
	if out != segment.Ready || seg.Frames != 40 || seg.Seq != 1 {
		t.Errorf("flush long = %s frames=%d seq=%d, want ready/40/1", out, seg.Frames, seg.Seq)
	}

	run(m, speech(5))
	if _, out := m.Stop(); out != segment.Discarded {
		t.Errorf("flush short = %s, want discarded", out)
	}
}

func TestMaxSegmentSamples(t *testing.T) {
	t.Parallel()

	cfg := segment.DefaultConfig()
	cfg.MaxSegmentSamples = 50 * frameSize

	m := segment.New(cfg)
	got := run(m, seq(speech(120), silence(21)))
	if len(got) != 3 {
		t.Fatalf("closed %d segments, want 3", len(got))
	}
	for i := 0; i < 2; i++ {
		if got[i].out != segment.Ready || got[i].seg.Reason != segment.ClosedByLength || got[i].seg.Frames != 50 {
			t.Errorf("segment %d: %s/%s frames=%d, want ready/max_length/50", i, got[i].out, got[i].seg.Reason, got[i].seg.Frames)
		}
	}
	if got[0].at != 49 || got[1].at != 99 {
		t.Errorf("forced closes at frames %d and %d, want 49 and 99", got[0].at, got[1].at)
	}
	last := got[2]
	if last.seg.Reason != segment.ClosedBySilence || last.seg.Frames != 41 {
		t.Errorf("last segment %s frames=%d, want silence/41", last.seg.Reason, last.seg.Frames)
	}
	if wantOffset := time.Duration(100*frameSize) * time.Second / 16000; last.seg.Offset != wantOffset {
		t.Errorf("last offset = %v, want %v", last.seg.Offset, wantOffset)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	m := segment.New(segment.DefaultConfig())
	run(m, seq(speech(40), silence(21), speech(3)))
	m.Reset()
	if m.State() != segment.Idle || m.Buffered() != 0 || m.Stats() != (segment.Stats{}) {
		t.Errorf("after Reset: state=%s buffered=%d stats=%+v", m.State(), m.Buffered(), m.Stats())
	}
	got := run(m, seq(speech(40), silence(21)))
	if len(got) != 1 || got[0].seg.Seq != 1 || got[0].seg.Offset != 0 {
		t.Errorf("after Reset segment = %+v", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := segment.New(segment.Config{}).Config()
	if cfg.SilenceThreshold != 20 || cfg.MinSpeechSamples != 16000 || cfg.SampleRate != 16000 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	s := segment.Segment{Samples: make([]float32, 24000), SampleRate: 16000}
	if got := s.Duration(); got != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got)
	}
}
