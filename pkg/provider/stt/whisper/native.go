// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// ErrClosed is returned by NativeProvider.Transcribe after Close.
var ErrClosed = errors.New("whisper: provider closed")

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once and shared; every Transcribe call creates
// its own inference context from it.
type NativeProvider struct {
	mu       sync.RWMutex
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "auto"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp uses per
// inference. Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Calls after the first are no-ops.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe runs whisper.cpp inference on samples. Audio at a rate other
// than 16 kHz is resampled first.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if sampleRate != audio.TargetSampleRate {
		samples = audio.Resample(samples, sampleRate, audio.TargetSampleRate)
		if samples == nil {
			return stt.Transcript{}, fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return stt.Transcript{}, ErrClosed
	}

	start := time.Now()
	text, err := p.infer(ctx, samples)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{
		Text:     text,
		Language: p.language,
		Duration: time.Since(start),
	}, nil
}

// infer runs inference using a fresh context and returns the concatenated
// segment text. Contexts are not thread-safe but the model is.
func (p *NativeProvider) infer(ctx context.Context, samples []float32) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	// whisper.cpp cannot be interrupted mid-inference; the encoder callback
	// aborts before decoding when ctx is already done.
	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
