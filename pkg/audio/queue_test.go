package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func block(v float32) audio.Block {
	return audio.Block{Samples: []float32{v}, SampleRate: 16000}
}

func TestBlockQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(8, audio.DropOldest)
	for i := range 5 {
		if err := q.Push(block(float32(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for i := range 5 {
		b, err := q.Pop(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Samples[0] != float32(i) {
			t.Errorf("pop %d = %v, want %d", i, b.Samples[0], i)
		}
	}
}

func TestBlockQueue_DropOldest(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(3, audio.DropOldest)
	for i := range 5 {
		if err := q.Push(block(float32(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
	if got := q.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	for _, want := range []float32{2, 3, 4} {
		b, err := q.Pop(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Samples[0] != want {
			t.Errorf("pop = %v, want %v", b.Samples[0], want)
		}
	}
}

func TestBlockQueue_PopTimeout(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(1, audio.DropOldest)
	start := time.Now()
	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, audio.ErrQueueTimeout) {
		t.Fatalf("Pop err = %v, want ErrQueueTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Pop returned after %v, before the timeout", elapsed)
	}
}

func TestBlockQueue_CloseWakesPop(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(1, audio.DropOldest)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background(), 0)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, audio.ErrQueueClosed) {
			t.Errorf("Pop err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
	if err := q.Push(block(1)); !errors.Is(err, audio.ErrQueueClosed) {
		t.Errorf("Push after Close err = %v, want ErrQueueClosed", err)
	}
}

func TestBlockQueue_DrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(4, audio.DropOldest)
	_ = q.Push(block(7))
	q.Close()
	b, err := q.Pop(context.Background(), time.Second)
	if err != nil || b.Samples[0] != 7 {
		t.Fatalf("Pop = %v, %v; want block 7", b.Samples, err)
	}
	if _, err := q.Pop(context.Background(), time.Second); !errors.Is(err, audio.ErrQueueClosed) {
		t.Errorf("second Pop err = %v, want ErrQueueClosed", err)
	}
}

func TestBlockQueue_PopContextCancel(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(1, audio.DropOldest)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop err = %v, want context.Canceled", err)
	}
}

func TestBlockQueue_BlockProducer(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(1, audio.BlockProducer)
	if err := q.Push(block(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(block(2)) }()

	select {
	case <-pushed:
		t.Fatal("Push returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	if b, err := q.Pop(context.Background(), time.Second); err != nil || b.Samples[0] != 1 {
		t.Fatalf("Pop = %v, %v; want block 1", b.Samples, err)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked Push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Push did not resume after Pop")
	}
	if q.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", q.Dropped())
	}
}

func TestBlockQueue_BlockProducerUnblocksOnClose(t *testing.T) {
	t.Parallel()

	q := audio.NewBlockQueue(1, audio.BlockProducer)
	_ = q.Push(block(1))
	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(block(2)) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-pushed:
		if !errors.Is(err, audio.ErrQueueClosed) {
			t.Errorf("Push err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push did not return after Close")
	}
}

func TestBlockQueue_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const n = 2000
	q := audio.NewBlockQueue(16, audio.BlockProducer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			if err := q.Push(block(float32(i))); err != nil {
				t.Errorf("Push: %v", err)
				return
			}
		}
		q.Close()
	}()

	next := float32(0)
	for {
		b, err := q.Pop(context.Background(), time.Second)
		if errors.Is(err, audio.ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Samples[0] != next {
			t.Fatalf("pop = %v, want %v", b.Samples[0], next)
		}
		next++
	}
	wg.Wait()
	if next != n {
		t.Errorf("received %v blocks, want %d", next, n)
	}
}

func TestParseQueuePolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]audio.QueuePolicy{"": audio.DropOldest, "drop_oldest": audio.DropOldest, "block": audio.BlockProducer} {
		got, ok := audio.ParseQueuePolicy(in)
		if !ok || got != want {
			t.Errorf("ParseQueuePolicy(%q) = %v, %v; want %v, true", in, got, ok, want)
		}
	}
	if _, ok := audio.ParseQueuePolicy("unbounded"); ok {
		t.Error("ParseQueuePolicy accepted unknown policy")
	}
}
