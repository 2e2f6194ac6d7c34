// Package miniaudio implements [capture.Source] on top of miniaudio through
// the malgo bindings. Devices are opened in float32 format; multi-channel
// input is averaged to mono inside the driver callback.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/capture"
)

// Ensure Source implements the capture.Source interface.
var _ capture.Source = (*Source)(nil)

// Source opens capture devices through miniaudio.
type Source struct {
	backends []malgo.Backend
	logger   *slog.Logger
}

// Option is a functional option for Source.
type Option func(*Source)

// WithBackends restricts miniaudio to the listed backends, in priority
// order. By default miniaudio probes every backend of the platform.
func WithBackends(b ...malgo.Backend) Option {
	return func(s *Source) { s.backends = b }
}

// WithLogger routes miniaudio's own log messages to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// New returns a miniaudio capture source.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) initContext() (*malgo.AllocatedContext, error) {
	var logProc malgo.LogProc
	if s.logger != nil {
		l := s.logger
		logProc = func(msg string) { l.Debug("miniaudio", "msg", msg) }
	}
	mctx, err := malgo.InitContext(s.backends, malgo.ContextConfig{}, logProc)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return mctx, nil
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// Devices implements capture.Source.
func (s *Source) Devices(_ context.Context) ([]capture.Device, error) {
	mctx, err := s.initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(mctx)

	_, devices, err := s.enumerate(mctx)
	return devices, err
}

func (s *Source) enumerate(mctx *malgo.AllocatedContext) ([]malgo.DeviceInfo, []capture.Device, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("miniaudio: list capture devices: %w", err)
	}
	devices := make([]capture.Device, len(infos))
	for i := range infos {
		devices[i] = capture.Device{
			ID:      infos[i].ID.String(),
			Name:    infos[i].Name(),
			Default: infos[i].IsDefault != 0,
		}
	}
	return infos, devices, nil
}

// Open implements capture.Source.
func (s *Source) Open(_ context.Context, cfg capture.Config, h capture.Handler) (capture.Stream, error) {
	if h.OnBlock == nil {
		return nil, fmt.Errorf("miniaudio: open: OnBlock handler is required")
	}

	mctx, err := s.initContext()
	if err != nil {
		return nil, err
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(channels)
	devCfg.SampleRate = uint32(max(cfg.SampleRate, 0))
	devCfg.PeriodSizeInFrames = uint32(max(cfg.BlockSize, 0))

	if cfg.Device != "" {
		infos, devices, err := s.enumerate(mctx)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		sel, err := capture.SelectDevice(devices, cfg.Device)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		for i := range devices {
			if devices[i].ID == sel.ID {
				devCfg.Capture.DeviceID = infos[i].ID.Pointer()
				break
			}
		}
	}

	st := &stream{ctx: mctx}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			samples := audio.DecodeFloat32LE(in)
			if st.channels > 1 {
				samples = audio.Downmix(samples, st.channels)
			}
			h.OnBlock(audio.Block{
				Samples:    samples,
				SampleRate: st.rate,
				CapturedAt: time.Now(),
			})
		},
		Stop: func() {
			if st.closing() {
				return
			}
			if h.OnStatus != nil {
				h.OnStatus(capture.StatusStopped)
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("miniaudio: init device: %w", err)
	}
	st.dev = dev
	st.rate = int(dev.SampleRate())
	st.channels = int(dev.CaptureChannels())

	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("miniaudio: start device: %w", err)
	}
	return st, nil
}

type stream struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	// rate and channels are written before the device starts and only
	// read from the callback afterwards.
	rate     int
	channels int

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// Format implements capture.Stream.
func (s *stream) Format() audio.Format {
	return audio.Format{SampleRate: s.rate, Channels: s.channels}
}

func (s *stream) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements capture.Stream.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if stopErr := s.dev.Stop(); stopErr != nil {
			err = fmt.Errorf("miniaudio: stop device: %w", stopErr)
		}
		s.dev.Uninit()
		freeContext(s.ctx)
	})
	return err
}
