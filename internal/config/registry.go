package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio/capture"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists for the requested name. The error text lists the names that are
// registered for that kind.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a component from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the per-kind table inside a [Registry].
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	build, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q (known: %s)",
			ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	return build(entry)
}

func (f factories[T]) names() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// Registry resolves [ProviderEntry] names to the factories that build speech
// backends, VAD engines and capture sources. Registering a name twice
// replaces the earlier factory. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     factories[stt.Provider]
	vad     factories[vad.Engine]
	capture factories[capture.Source]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     newFactories[stt.Provider]("stt"),
		vad:     newFactories[vad.Engine]("vad"),
		capture: newFactories[capture.Source]("capture"),
	}
}

// RegisterSTT registers a transcription backend factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterVAD registers a VAD engine factory.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

// RegisterCapture registers a capture source factory.
func (r *Registry) RegisterCapture(name string, f Factory[capture.Source]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture.m[name] = f
}

// CreateSTT builds the transcription backend named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateVAD builds the VAD engine named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateCapture builds the capture source named by entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capture.create(entry)
}

// Names lists the registered names per kind ("stt", "vad", "capture"),
// each sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.stt.kind:     r.stt.names(),
		r.vad.kind:     r.vad.names(),
		r.capture.kind: r.capture.names(),
	}
}
