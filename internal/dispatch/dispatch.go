// Package dispatch hands closed speech segments to a transcription backend
// on a bounded worker pool.
//
// The analysis goroutine calls [Dispatcher.Dispatch], which never blocks: the
// segment is queued or rejected with [ErrQueueFull]. Workers pick segments
// in order, route them by the transcription mode captured at dispatch time
// and deliver non-empty results to the OnTranscript callback. Failures are
// converted to text according to the route's [ErrorPolicy]; nothing is
// retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	// DefaultWorkers is the number of concurrent transcriptions.
	DefaultWorkers = 1

	// DefaultQueueSize is the number of segments that may wait for a
	// worker.
	DefaultQueueSize = 16

	// DefaultTimeout bounds a single transcription call.
	DefaultTimeout = 60 * time.Second

	// MissingBackendMessage is reported when a route has no provider, which
	// happens when the cloud API key is not configured.
	MissingBackendMessage = "API Key missing"

	// errorPrefix starts every error text delivered to OnTranscript.
	errorPrefix = "Error: "
)

var (
	// ErrQueueFull is returned by Dispatch when every queue slot is taken.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatch: closed")

	// ErrNoBackend marks a transcription routed to a mode without provider.
	ErrNoBackend = errors.New("dispatch: no backend for mode")
)

// Route is the backend for one Mode.
type Route struct {
	// Provider transcribes the segment. Nil means the backend is not
	// available and every segment yields the missing-backend error.
	Provider stt.Provider

	// Name identifies the provider in logs and metrics.
	Name string

	// OnError selects the failure text. Empty means [DefaultPolicy].
	OnError ErrorPolicy

	// MissingMessage replaces MissingBackendMessage when set.
	MissingMessage string
}

// Transcript is one delivered transcription result.
type Transcript struct {
	// Seq is the segment sequence number.
	Seq uint64

	// Text is the trimmed transcript, or "Error: <message>" for a tagged
	// failure.
	Text string

	// Mode is the route the segment was sent to.
	Mode Mode

	// Provider is the route's provider name.
	Provider string

	// Offset is the segment start relative to the capture session start.
	Offset time.Duration

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration

	// Latency is the time spent in the provider.
	Latency time.Duration

	// Err is the failure behind an error text, nil on success.
	Err error
}

// Config holds the Dispatcher settings. Zero values take defaults.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration

	// Mode is the initial transcription mode.
	Mode Mode

	// Routes maps modes to backends. A mode without entry behaves like a
	// route with a nil Provider.
	Routes map[Mode]Route

	// OnTranscript receives every non-empty result. With more than one
	// worker it is called concurrently.
	OnTranscript func(Transcript)

	// Metrics records dispatch instruments. Nil uses
	// observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Logger is used for per-segment logs. Nil uses slog.Default.
	Logger *slog.Logger
}

type job struct {
	seg  segment.Segment
	mode Mode
}

// Dispatcher is a bounded pool of transcription workers. It is safe for
// concurrent use.
type Dispatcher struct {
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger

	mode atomic.Value // Mode

	routesMu sync.RWMutex
	routes   map[Mode]Route

	mu     sync.RWMutex
	closed bool
	queue  chan job

	pending atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Dispatcher with cfg.Workers workers.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("dispatch: invalid mode %q", cfg.Mode)
	}
	routes := make(map[Mode]Route, len(cfg.Routes))
	for m, r := range cfg.Routes {
		if !m.IsValid() {
			return nil, fmt.Errorf("dispatch: route for invalid mode %q", m)
		}
		if r.OnError != "" && !r.OnError.IsValid() {
			return nil, fmt.Errorf("dispatch: route %s: invalid error policy %q", m, r.OnError)
		}
		routes[m] = r
	}

	d := &Dispatcher{
		cfg:     cfg,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		routes:  routes,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.mode.Store(cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Workers {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(d.done)
	}()
	return d, nil
}

// Mode returns the current transcription mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode.Load().(Mode)
}

// SetMode switches the transcription mode for segments dispatched from now
// on. Segments already queued keep their mode.
func (d *Dispatcher) SetMode(m Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("dispatch: invalid mode %q", m)
	}
	if old := d.mode.Swap(m); old != m {
		d.log.Info("transcription mode changed", "from", old, "to", m)
	}
	return nil
}

// SetRoute replaces the backend for mode. Queued segments use the route
// in place when a worker picks them up.
func (d *Dispatcher) SetRoute(m Mode, r Route) error {
	if !m.IsValid() {
		return fmt.Errorf("dispatch: invalid mode %q", m)
	}
	if r.OnError != "" && !r.OnError.IsValid() {
		return fmt.Errorf("dispatch: invalid error policy %q", r.OnError)
	}
	d.routesMu.Lock()
	d.routes[m] = r
	d.routesMu.Unlock()
	return nil
}

// Route returns the backend configured for mode.
func (d *Dispatcher) Route(m Mode) (Route, bool) {
	d.routesMu.RLock()
	defer d.routesMu.RUnlock()
	r, ok := d.routes[m]
	return r, ok
}

// Pending returns the number of segments queued or being transcribed.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Dispatch queues seg for transcription under the current mode. It never
// blocks.
func (d *Dispatcher) Dispatch(seg segment.Segment) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	j := job{seg: seg, mode: d.Mode()}
	select {
	case d.queue <- j:
		d.pending.Add(1)
		d.metrics.PendingSegments.Add(context.Background(), 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting segments and waits until queued segments are
// transcribed. When ctx ends first, in-flight transcriptions are cancelled,
// the remaining queue is abandoned and ctx's error is returned. Calls after
// the first wait for the same shutdown.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for j := range d.queue {
		if ctx.Err() != nil {
			d.finish()
			continue
		}
		d.process(ctx, j)
		d.finish()
	}
}

func (d *Dispatcher) finish() {
	d.pending.Add(-1)
	d.metrics.PendingSegments.Add(context.Background(), -1)
}

// process transcribes one segment and delivers the result.
func (d *Dispatcher) process(ctx context.Context, j job) {
	route, _ := d.Route(j.mode)
	policy := route.OnError
	if policy == "" {
		policy = DefaultPolicy(j.mode)
	}

	ctx, span := observe.StartSpan(ctx, "dispatch.transcribe",
		trace.WithAttributes(
			attribute.Int64("segment.seq", int64(j.seg.Seq)),
			attribute.String("mode", string(j.mode)),
			attribute.String("provider", route.Name),
			attribute.Float64("audio.seconds", j.seg.Duration().Seconds()),
		),
	)
	defer span.End()
	log := observe.WithTrace(ctx, d.log).With("seq", j.seg.Seq, "mode", j.mode, "provider", route.Name)

	out := Transcript{
		Seq:           j.seg.Seq,
		Mode:          j.mode,
		Provider:      route.Name,
		Offset:        j.seg.Offset,
		AudioDuration: j.seg.Duration(),
	}

	if route.Provider == nil {
		msg := route.MissingMessage
		if msg == "" {
			msg = MissingBackendMessage
		}
		out.Err = fmt.Errorf("%w %s", ErrNoBackend, j.mode)
		out.Text = errorPrefix + msg
		span.SetStatus(codes.Error, msg)
		log.Warn("no transcription backend", "message", msg)
		d.deliver(ctx, out)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	start := time.Now()
	t, err := transcribe(tctx, route.Provider, j.seg)
	cancel()
	out.Latency = time.Since(start)

	attrs := metric.WithAttributes(attribute.String("mode", string(j.mode)))
	d.metrics.STTDuration.Record(ctx, out.Latency.Seconds(), attrs)

	if err != nil {
		d.metrics.RecordProviderRequest(ctx, route.Name, "stt", "error")
		d.metrics.RecordProviderError(ctx, route.Name, "stt")
		observe.FailSpan(span, err)
		log.Warn("transcription failed", "err", err, "policy", policy, "latency", out.Latency)

		out.Err = err
		if policy == PolicyTag {
			out.Text = errorPrefix + err.Error()
		}
		d.deliver(ctx, out)
		return
	}

	d.metrics.RecordProviderRequest(ctx, route.Name, "stt", "ok")
	out.Text = strings.TrimSpace(t.Text)
	log.Debug("segment transcribed", "chars", len(out.Text), "latency", out.Latency, "audio", out.AudioDuration)
	d.deliver(ctx, out)
}

func (d *Dispatcher) deliver(ctx context.Context, t Transcript) {
	if strings.TrimSpace(t.Text) == "" || d.cfg.OnTranscript == nil {
		return
	}
	d.metrics.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(t.Mode))))
	d.cfg.OnTranscript(t)
}

// transcribe calls p and converts a panic into an error so one faulty
// backend call cannot take down the worker.
func transcribe(ctx context.Context, p stt.Provider, seg segment.Segment) (t stt.Transcript, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: provider panic: %v", r)
		}
	}()
	return p.Transcribe(ctx, seg.Samples, seg.SampleRate)
}
