package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/capture"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// session is the state of one capture run. The accumulator, the machine
// and the VAD handle are owned by the analysis goroutine.
type session struct {
	l      *Listener
	device string

	ctx    context.Context
	cancel context.CancelFunc

	queue  *audio.BlockQueue
	stream capture.Stream

	vad     vad.SessionHandle
	acc     *audio.FrameAccumulator
	machine *segment.Machine

	// Written by the driver callback, read by the analysis goroutine.
	overruns      atomic.Uint64
	deviceStopped atomic.Bool

	seenOverruns uint64
	seenDropped  uint64

	haltOnce sync.Once
	haltErr  error
	vadOnce  sync.Once

	done chan struct{}
}

func (l *Listener) newSession(ctx context.Context, device string, handle vad.SessionHandle) *session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &session{
		l:       l,
		device:  device,
		ctx:     sctx,
		cancel:  cancel,
		queue:   audio.NewBlockQueue(l.opts.QueueSize, l.opts.QueuePolicy),
		vad:     handle,
		acc:     audio.NewFrameAccumulator(audio.FrameSize),
		machine: segment.New(l.opts.Segmenter),
		done:    make(chan struct{}),
	}
}

// onBlock runs on the driver thread.
func (s *session) onBlock(b audio.Block) {
	_ = s.queue.Push(b)
}

// onStatus runs on the driver thread.
func (s *session) onStatus(st capture.Status) {
	switch st {
	case capture.StatusOverrun:
		s.overruns.Add(1)
	case capture.StatusStopped:
		s.deviceStopped.Store(true)
	}
}

// halt stops the stream and wakes the analysis goroutine. It returns the
// stream close error of the first call.
func (s *session) halt() error {
	s.haltOnce.Do(func() {
		if s.stream != nil {
			s.haltErr = s.stream.Close()
		}
		s.queue.Close()
		s.cancel()
	})
	return s.haltErr
}

func (s *session) closeVAD() {
	s.vadOnce.Do(func() {
		if err := s.vad.Close(); err != nil {
			s.l.log.Warn("listener: close vad session", "err", err)
		}
	})
}

func (s *session) run() {
	defer close(s.done)
	l := s.l

	for s.ctx.Err() == nil {
		s.checkDriver()
		if s.deviceStopped.Load() {
			break
		}

		b, err := s.queue.Pop(s.ctx, l.opts.PopTimeout)
		if errors.Is(err, audio.ErrQueueTimeout) {
			continue
		}
		if err != nil {
			break
		}
		if s.ctx.Err() != nil {
			break
		}

		if err := s.handleBlock(b); err != nil {
			s.acc.Reset()
			l.stats.analysisErrs.Add(1)
			var ae *AnalysisError
			stage := "unknown"
			if errors.As(err, &ae) {
				stage = ae.Stage
			}
			l.metrics.RecordAnalysisError(s.ctx, stage)
			l.log.Warn("listener: block skipped", "stage", stage, "err", err)
		}
	}

	seg, out := s.machine.Stop()
	s.handleOutcome(seg, out)

	if s.deviceStopped.Load() && l.detach(s) != nil {
		if err := s.halt(); err != nil {
			l.log.Warn("listener: close stream", "err", err)
		}
		s.closeVAD()
		derr := &DeviceError{Op: "run", Device: s.device, Err: ErrDeviceStopped}
		l.log.Error("listener: device lost", "device", s.device)
		l.reportError(derr)
	}
}

// checkDriver logs and counts driver anomalies and queue evictions seen
// since the last call.
func (s *session) checkDriver() {
	l := s.l
	if n := s.overruns.Load(); n > s.seenOverruns {
		delta := n - s.seenOverruns
		s.seenOverruns = n
		l.stats.overruns.Add(delta)
		for range delta {
			l.metrics.RecordDeviceStatus(s.ctx, capture.StatusOverrun.String())
		}
		l.log.Warn("listener: driver overrun", "count", delta)
	}
	if s.deviceStopped.Load() {
		l.metrics.RecordDeviceStatus(s.ctx, capture.StatusStopped.String())
	}
	if d := s.queue.Dropped(); d > s.seenDropped {
		delta := d - s.seenDropped
		s.seenDropped = d
		l.stats.dropped.Add(delta)
		l.metrics.BlocksDropped.Add(s.ctx, int64(delta))
		l.log.Warn("listener: block queue full, dropped oldest", "count", delta)
	}
}

// handleBlock runs one block through the pipeline. Panics are recovered
// and reported as an AnalysisError of the stage that was running.
func (s *session) handleBlock(b audio.Block) (err error) {
	l := s.l
	stage := StageResample
	defer func() {
		if r := recover(); r != nil {
			err = &AnalysisError{Stage: stage, Err: fmt.Errorf("listener: panic: %v", r)}
		}
	}()

	l.stats.blocks.Add(1)
	l.metrics.BlocksReceived.Add(s.ctx, 1)

	samples := b.Samples
	if b.SampleRate != audio.TargetSampleRate {
		samples = l.opts.Resampler.Resample(b.Samples, b.SampleRate, audio.TargetSampleRate)
		if len(samples) == 0 && len(b.Samples) > 0 {
			return &AnalysisError{Stage: StageResample, Err: fmt.Errorf("no output for %d samples at %d Hz", len(b.Samples), b.SampleRate)}
		}
	}

	stage = StageAccumulate
	s.acc.Push(samples)

	for {
		frame, ok := s.acc.TryTakeFrame()
		if !ok {
			return nil
		}

		stage = StageVAD
		start := time.Now()
		v, err := s.vad.ProcessFrame(frame)
		l.metrics.VADDuration.Record(s.ctx, time.Since(start).Seconds())
		if err != nil {
			return &AnalysisError{Stage: StageVAD, Err: err}
		}
		l.stats.frames.Add(1)
		l.metrics.FramesAnalyzed.Add(s.ctx, 1)
		if v.Speech {
			l.stats.speech.Add(1)
			l.metrics.SpeechFrames.Add(s.ctx, 1)
		}

		stage = StageSegment
		seg, out := s.machine.Process(frame, v.Speech)
		s.handleOutcome(seg, out)
	}
}

func (s *session) handleOutcome(seg segment.Segment, out segment.Outcome) {
	l := s.l
	switch out {
	case segment.None:
		return
	case segment.Discarded:
		l.stats.discarded.Add(1)
		l.metrics.RecordSegment(s.ctx, observe.SegmentDiscarded)
		l.log.Debug("segment discarded",
			"samples", len(seg.Samples),
			"reason", seg.Reason.String(),
		)
	case segment.Ready:
		if err := l.opts.Dispatcher.Dispatch(seg); err != nil {
			l.stats.rejected.Add(1)
			l.metrics.RecordSegment(s.ctx, observe.SegmentRejected)
			l.log.Warn("listener: segment rejected", "seq", seg.Seq, "err", err)
		} else {
			l.stats.dispatched.Add(1)
			l.metrics.RecordSegment(s.ctx, observe.SegmentDispatched)
			l.metrics.SegmentAudio.Record(s.ctx, seg.Duration().Seconds(),
				metric.WithAttributes(attribute.String("reason", seg.Reason.String())))
			l.log.Debug("segment dispatched",
				"seq", seg.Seq,
				"duration", seg.Duration(),
				"speech_frames", seg.SpeechFrames,
				"reason", seg.Reason.String(),
			)
		}
	}
	if l.opts.OnSegment != nil {
		l.opts.OnSegment(seg, out)
	}
}
