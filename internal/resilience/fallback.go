package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// was skipped by its open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup]. CircuitBreaker is the
// template for the per-entry breakers; its Name is replaced by the entry
// name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Logger receives failover logs. Nil uses slog.Default.
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type. Calls go to the first entry whose breaker admits them and
// move on when it fails.
//
// Entries must all be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = log
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry, tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// EntryStatus reports the circuit state of one entry.
type EntryStatus struct {
	Name  string
	State State
}

// Status returns the entries in failover order with their breaker state.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i := range fg.entries {
		out[i] = EntryStatus{Name: fg.entries[i].name, State: fg.entries[i].breaker.State()}
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order until one succeeds and
// returns its result. Entries with an open breaker are skipped. A
// context.Canceled error ends the walk at once. When every entry fails the
// error wraps [ErrAllFailed] and names the last failure.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var err error
			result, err = fn(entry.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				fg.log.Info("served by fallback", "provider", entry.name, "position", i)
			}
			return result, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("skipping provider, circuit open", "provider", entry.name)
		default:
			fg.log.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
		lastErr = fmt.Errorf("%s: %w", entry.name, err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
