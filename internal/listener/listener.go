// Package listener runs the capture loop: it opens a capture device, queues
// the blocks delivered by the driver callback and analyses them on a single
// goroutine. Each block is resampled to 16 kHz, cut into 512-sample frames,
// classified by the VAD and fed to the segmentation machine. Segments that
// are long enough are handed to a [Dispatcher] for transcription.
//
// The driver callback only pushes to a bounded [audio.BlockQueue]; it never
// blocks, logs or allocates pipeline state. Everything else belongs to the
// analysis goroutine of the running session.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/capture"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	// DefaultBlockSize is the number of frames requested per driver
	// callback.
	DefaultBlockSize = 1024

	// DefaultPopTimeout bounds how long the analysis goroutine waits for a
	// block before it re-checks for a stop request.
	DefaultPopTimeout = 500 * time.Millisecond
)

// Dispatcher accepts closed segments for transcription. Dispatch must not
// block; *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(seg segment.Segment) error
}

// Options configures a [Listener].
type Options struct {
	// Source opens capture streams. Required.
	Source capture.Source

	// VAD creates one detector session per capture session. Required.
	VAD vad.Engine

	// Dispatcher receives Ready segments. Required.
	Dispatcher Dispatcher

	// Segmenter holds the segmentation rules. Zero fields take the
	// segment package defaults.
	Segmenter segment.Config

	// VADThreshold is the speech probability a frame must exceed. Zero
	// means 0.5.
	VADThreshold float64

	// BlockSize is requested from the driver. Zero means DefaultBlockSize.
	BlockSize int

	// QueueSize bounds the block queue. Zero means audio.DefaultQueueSize.
	QueueSize int

	// QueuePolicy decides what a full queue does. The zero value drops the
	// oldest block.
	QueuePolicy audio.QueuePolicy

	// PopTimeout is the analysis wait per pop. Zero means
	// DefaultPopTimeout.
	PopTimeout time.Duration

	// Resampler converts device-rate blocks to 16 kHz. Nil uses a
	// zero-value windowed-sinc resampler.
	Resampler *audio.Resampler

	// OnError receives the message of every DeviceError. May be nil.
	OnError func(message string)

	// OnSegment is called on the analysis goroutine for every closed
	// segment, after it was dispatched or discarded. May be nil.
	OnSegment func(seg segment.Segment, out segment.Outcome)

	// Metrics records pipeline instruments. Nil uses
	// observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats are cumulative counters across all sessions of a Listener.
type Stats struct {
	Running            bool
	Device             string
	BlocksReceived     uint64
	BlocksDropped      uint64
	Overruns           uint64
	Frames             uint64
	SpeechFrames       uint64
	SegmentsDispatched uint64
	SegmentsDiscarded  uint64
	SegmentsRejected   uint64
	AnalysisErrors     uint64
}

type counters struct {
	blocks       atomic.Uint64
	dropped      atomic.Uint64
	overruns     atomic.Uint64
	frames       atomic.Uint64
	speech       atomic.Uint64
	dispatched   atomic.Uint64
	discarded    atomic.Uint64
	rejected     atomic.Uint64
	analysisErrs atomic.Uint64
}

// Listener owns at most one running capture session.
//
// All methods are safe for concurrent use.
type Listener struct {
	opts    Options
	log     *slog.Logger
	metrics *observe.Metrics

	// opMu serialises Start and Stop.
	opMu sync.Mutex

	mu        sync.Mutex
	sess      *session
	threshold float64

	stats counters
}

// New validates opts and returns a stopped Listener.
func New(opts Options) (*Listener, error) {
	var errs []error
	if opts.Source == nil {
		errs = append(errs, errors.New("listener: source is required"))
	}
	if opts.VAD == nil {
		errs = append(errs, errors.New("listener: vad engine is required"))
	}
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("listener: dispatcher is required"))
	}
	if opts.VADThreshold < 0 || opts.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("listener: vad threshold %.2f out of range [0,1)", opts.VADThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = audio.DefaultQueueSize
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	if opts.Resampler == nil {
		opts.Resampler = &audio.Resampler{}
	}
	l := &Listener{
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		threshold: opts.VADThreshold,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l, nil
}

// SetVADThreshold changes the speech threshold. It takes effect on the
// next Start.
func (l *Listener) SetVADThreshold(v float64) error {
	if v < 0 || v >= 1 {
		return fmt.Errorf("listener: vad threshold %.2f out of range [0,1)", v)
	}
	l.mu.Lock()
	l.threshold = v
	l.mu.Unlock()
	return nil
}

// Running reports whether a capture session is active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess != nil
}

// Device returns the device selector of the running session, or "" when
// stopped.
func (l *Listener) Device() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return ""
	}
	return l.sess.device
}

// Stats returns a snapshot of the cumulative counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	running := l.sess != nil
	device := ""
	if running {
		device = l.sess.device
	}
	l.mu.Unlock()
	return Stats{
		Running:            running,
		Device:             device,
		BlocksReceived:     l.stats.blocks.Load(),
		BlocksDropped:      l.stats.dropped.Load(),
		Overruns:           l.stats.overruns.Load(),
		Frames:             l.stats.frames.Load(),
		SpeechFrames:       l.stats.speech.Load(),
		SegmentsDispatched: l.stats.dispatched.Load(),
		SegmentsDiscarded:  l.stats.discarded.Load(),
		SegmentsRejected:   l.stats.rejected.Load(),
		AnalysisErrors:     l.stats.analysisErrs.Load(),
	}
}

// Start opens device and begins analysis. It is a no-op while running.
// A device that cannot be acquired yields a *DeviceError, which is also
// passed to OnError; the listener stays stopped.
//
// ctx bounds device acquisition only; the session runs until Stop or a
// device failure.
func (l *Listener) Start(ctx context.Context, device string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	running := l.sess != nil
	threshold := l.threshold
	l.mu.Unlock()
	if running {
		return nil
	}

	handle, err := l.opts.VAD.NewSession(vad.Config{
		SampleRate:      audio.TargetSampleRate,
		FrameSize:       audio.FrameSize,
		SpeechThreshold: threshold,
	})
	if err != nil {
		return fmt.Errorf("listener: create vad session: %w", err)
	}

	s := l.newSession(ctx, device, handle)
	stream, err := l.opts.Source.Open(ctx, capture.Config{
		Device:    device,
		BlockSize: l.opts.BlockSize,
	}, capture.Handler{
		OnBlock:  s.onBlock,
		OnStatus: s.onStatus,
	})
	if err != nil {
		derr := &DeviceError{Op: "open", Device: device, Err: err}
		s.cancel()
		s.queue.Close()
		if cerr := handle.Close(); cerr != nil {
			l.log.Warn("listener: close vad session", "err", cerr)
		}
		l.log.Error("listener: device unavailable", "device", device, "err", err)
		l.reportError(derr)
		return derr
	}
	s.stream = stream

	l.mu.Lock()
	l.sess = s
	l.mu.Unlock()
	l.metrics.ActiveListeners.Add(s.ctx, 1)

	go s.run()

	l.log.Info("listener started",
		"device", device,
		"format", stream.Format().String(),
		"queue_size", l.opts.QueueSize,
		"queue_policy", l.opts.QueuePolicy.String(),
	)
	return nil
}

// Stop halts capture and releases the device. It waits for the block in
// flight to finish and returns within about one pop timeout. Stop is a
// no-op while stopped. The returned error is the driver's close error.
func (l *Listener) Stop() error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	s := l.detach(nil)
	if s == nil {
		return nil
	}
	err := s.halt()
	<-s.done
	s.closeVAD()
	if err != nil {
		err = fmt.Errorf("listener: close stream: %w", err)
	}
	l.log.Info("listener stopped", "device", s.device)
	return err
}

// detach clears the running session. With want non-nil it only detaches
// that session. It returns the detached session, or nil.
func (l *Listener) detach(want *session) *session {
	l.mu.Lock()
	s := l.sess
	if s == nil || (want != nil && s != want) {
		l.mu.Unlock()
		return nil
	}
	l.sess = nil
	l.mu.Unlock()
	l.metrics.ActiveListeners.Add(s.ctx, -1)
	return s
}

func (l *Listener) reportError(err error) {
	if l.opts.OnError != nil {
		l.opts.OnError(err.Error())
	}
}
