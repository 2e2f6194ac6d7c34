//go:build silero

package silero

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

const (
	// windowSize is the number of samples per inference call. Silero VAD
	// v5 at 16 kHz requires exactly 512 samples.
	windowSize = 512

	// stateSize is the hidden state dimension per layer. Silero VAD v5
	// uses a combined state tensor of shape [2, 1, 128].
	stateSize = 128
)

// ortInitOnce ensures the ONNX Runtime environment is initialized exactly
// once per process. ortInitErr is kept so later engines surface the same
// failure.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Available reports whether the Silero backend is compiled in.
func Available() bool { return true }

// Ensure Engine implements the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// Engine creates Silero VAD sessions backed by ONNX Runtime. Every session
// owns its own ONNX session and tensors.
type Engine struct {
	model   []byte
	libPath string
	err     error
}

// New loads the ONNX model at modelPath and initializes ONNX Runtime.
// A failure does not return an error: the engine is kept in an
// uninitialized state whose sessions report silence, and the failure is
// available through Err.
func New(modelPath string, opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	e.err = e.load(modelPath)
	if e.err != nil {
		logger().Error("silero vad unavailable, frames will be reported as silence", "err", e.err)
	}
	return e
}

func (e *Engine) load(modelPath string) error {
	if modelPath == "" {
		return fmt.Errorf("silero: model path is empty")
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return fmt.Errorf("silero: read model: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("silero: model file %q is empty", modelPath)
	}
	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath(e.libPath)
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("silero: %w", ortInitErr)
	}
	e.model = data
	return nil
}

// Err returns the initialization failure, or nil when the model is loaded.
func (e *Engine) Err() error { return e.err }

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d, want 16000", cfg.SampleRate)
	}
	if cfg.FrameSize != windowSize {
		return nil, fmt.Errorf("silero: unsupported frame size %d, want %d", cfg.FrameSize, windowSize)
	}
	if e.err != nil {
		return uninitialized{}, nil
	}
	return newSession(e.model, int64(cfg.SampleRate), cfg.Threshold())
}

type session struct {
	mu sync.Mutex

	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32] // [1, 512]
	stateTensor *ort.Tensor[float32] // [2, 1, 128]
	srTensor    *ort.Tensor[int64]   // [1]

	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]

	threshold float64
}

func newSession(model []byte, rate int64, threshold float64) (*session, error) {
	s := &session{threshold: threshold}
	var err error
	if s.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize)); err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	if s.stateTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		s.destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	if s.srTensor, err = ort.NewTensor(ort.NewShape(1), []int64{rate}); err != nil {
		s.destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	if s.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		s.destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	if s.stateNTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		s.destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	// onnxruntime_go does not guarantee zeroed memory.
	clear(s.stateTensor.GetData())
	clear(s.stateNTensor.GetData())

	s.session, err = ort.NewAdvancedSessionWithONNXData(
		model,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.inputTensor, s.stateTensor, s.srTensor},
		[]ort.Value{s.outputTensor, s.stateNTensor},
		nil,
	)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return s, nil
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []float32) (vad.Verdict, error) {
	if len(frame) != windowSize {
		return vad.Verdict{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), windowSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return vad.Verdict{}, nil
	}

	copy(s.inputTensor.GetData(), frame)
	if err := s.session.Run(); err != nil {
		return vad.Verdict{}, fmt.Errorf("silero: inference: %w", err)
	}
	prob := float64(s.outputTensor.GetData()[0])

	// Carry the recurrent state forward.
	copy(s.stateTensor.GetData(), s.stateNTensor.GetData())

	return vad.Classify(prob, s.threshold), nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateTensor != nil {
		clear(s.stateTensor.GetData())
	}
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroy()
	return nil
}

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		_ = s.inputTensor.Destroy()
	}
	if s.stateTensor != nil {
		_ = s.stateTensor.Destroy()
	}
	if s.srTensor != nil {
		_ = s.srTensor.Destroy()
	}
	if s.outputTensor != nil {
		_ = s.outputTensor.Destroy()
	}
	if s.stateNTensor != nil {
		_ = s.stateNTensor.Destroy()
	}
	s.inputTensor, s.stateTensor, s.outputTensor, s.stateNTensor, s.srTensor = nil, nil, nil, nil, nil
}
