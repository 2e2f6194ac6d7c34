package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

var testSamples = []float32{0.1, 0.2, 0.3}

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Default: stt.Transcript{Text: "from primary"}}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testSamples, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from primary" {
		t.Fatalf("Text = %q, want %q", got.Text, "from primary")
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
	if calls := primary.Calls(); calls[0].SampleRate != 16000 || len(calls[0].Samples) != len(testSamples) {
		t.Fatalf("primary call = %+v", calls[0])
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Default: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), testSamples, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from secondary" {
		t.Fatalf("Text = %q, want %q", got.Text, "from secondary")
	}
	if secondary.CallCount() != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.CallCount())
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), testSamples, 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Transcribe_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Default: stt.Transcript{Text: "ok"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	for range 3 {
		if _, err := fb.Transcribe(context.Background(), testSamples, 16000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (breaker should open)", primary.CallCount())
	}
	status := fb.Status()
	if len(status) != 2 || status[0].Name != "primary" || status[0].State != StateOpen {
		t.Fatalf("Status() = %+v, want primary open first", status)
	}
	if status[1].State != StateClosed {
		t.Fatalf("secondary state = %v, want closed", status[1].State)
	}
}

func TestSTTFallback_Transcribe_CanceledStopsFailover(t *testing.T) {
	primary := &sttmock.Provider{Gate: make(chan struct{})}
	secondary := &sttmock.Provider{Default: stt.Transcript{Text: "ok"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fb.Transcribe(ctx, testSamples, 16000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times after cancel, want 0", secondary.CallCount())
	}
	if st := fb.Status()[0].State; st != StateClosed {
		t.Fatalf("primary state = %v, want closed (cancel is not a failure)", st)
	}
}

func TestSTTFallback_Transcribe_EmptyAudio(t *testing.T) {
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})

	if _, err := fb.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Fatalf("primary called %d times, want 0", primary.CallCount())
	}
}
