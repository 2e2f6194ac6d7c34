// Package resilience provides circuit breaker and failover primitives for
// transcription backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops sending segments to a backend that keeps failing. [FallbackGroup]
// composes several backends of the same type with one breaker each, and
// [STTFallback] applies it to [stt.Provider] so a route can fail over from,
// say, a whisper.cpp server to the in-process model.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state change callbacks, usually
	// the backend name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it admits
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker, and the most probes admitted at once. Default: 3.
	HalfOpenMax int

	// IsFailure reports whether an error counts against the backend. The
	// default counts every error except context.Canceled, which only says
	// the caller went away.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Nil uses slog.Default.
	Logger *slog.Logger

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CountsAsFailure is the default IsFailure classifier.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	isFailure    func(error) bool
	onChange     func(name string, from, to State)
	log          *slog.Logger
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probesInFlight  int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields
// take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAsFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		log:          cfg.Logger.With("breaker", cfg.Name),
		now:          cfg.Now,
		state:        StateClosed,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call and returns fn's error.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.record(probe, err))
	return err
}

// transition is a pending OnStateChange call.
type transition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probe bool, t *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false, nil, ErrCircuitOpen
		}
		t = cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probesInFlight+cb.probeSuccesses >= cb.halfOpenMax {
			return false, t, ErrCircuitOpen
		}
		cb.probesInFlight++
		return true, t, nil
	}
	return false, t, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probesInFlight--
	}
	failed := cb.isFailure(err)
	if err != nil && !failed {
		// Neutral outcome: neither success nor failure.
		return nil
	}

	if failed {
		cb.lastFailure = cb.now()
		if probe || cb.state == StateHalfOpen {
			cb.consecutiveFail = cb.maxFailures
			return cb.setState(StateOpen)
		}
		cb.consecutiveFail++
		if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
			return cb.setState(StateOpen)
		}
		return nil
	}

	if probe && cb.state == StateHalfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			return cb.setState(StateClosed)
		}
		return nil
	}
	cb.consecutiveFail = 0
	return nil
}

// setState switches state and resets the probe counters. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) setState(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
	if to == StateClosed {
		cb.consecutiveFail = 0
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	cb.log.Log(context.Background(), level, "circuit breaker state changed",
		"from", t.from.String(), "to", t.to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, t.from, t.to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout
// has elapsed reports [StateHalfOpen]; the transition itself happens on the
// next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	cb.notify(t)
}
