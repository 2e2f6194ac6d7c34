package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// QueuePolicy decides what a full [BlockQueue] does with a new block.
type QueuePolicy int

const (
	// DropOldest evicts the oldest queued block to make room. Push never
	// blocks. This is the only policy safe for real-time driver callbacks.
	DropOldest QueuePolicy = iota

	// BlockProducer makes Push wait until space is available or the queue
	// is closed. Intended for file and test sources that can tolerate
	// backpressure.
	BlockProducer
)

// String returns the configuration name of p.
func (p QueuePolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case BlockProducer:
		return "block"
	default:
		return "unknown"
	}
}

// ParseQueuePolicy maps a configuration name to a QueuePolicy. The empty
// string selects [DropOldest].
func ParseQueuePolicy(s string) (QueuePolicy, bool) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, true
	case "block":
		return BlockProducer, true
	default:
		return 0, false
	}
}

var (
	// ErrQueueClosed is returned by Push after Close, and by Pop once the
	// queue is closed and empty.
	ErrQueueClosed = errors.New("audio: block queue closed")

	// ErrQueueTimeout is returned by Pop when no block arrived in time.
	ErrQueueTimeout = errors.New("audio: block queue pop timed out")
)

// DefaultQueueSize is the capacity used when NewBlockQueue gets a
// non-positive size.
const DefaultQueueSize = 256

// BlockQueue is a bounded FIFO of [Block] values shared between one
// producer (the capture callback) and the analysis worker. Blocks are
// delivered strictly in push order; blocks are never merged or reordered.
// All methods are safe for concurrent use.
type BlockQueue struct {
	policy QueuePolicy

	mu     sync.Mutex
	items  []Block
	head   int
	count  int
	closed bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}

	dropped atomic.Uint64
}

// NewBlockQueue returns a queue holding at most size blocks.
func NewBlockQueue(size int, policy QueuePolicy) *BlockQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &BlockQueue{
		policy:   policy,
		items:    make([]Block, size),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends b. Under [DropOldest] it never blocks and evicts the oldest
// block when full. Under [BlockProducer] it waits for space. It returns
// [ErrQueueClosed] once Close has been called.
func (q *BlockQueue) Push(b Block) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.count == len(q.items) {
			if q.policy == BlockProducer {
				q.mu.Unlock()
				select {
				case <-q.notFull:
				case <-q.done:
				}
				continue
			}
			q.items[q.head] = Block{}
			q.head = (q.head + 1) % len(q.items)
			q.count--
			q.dropped.Add(1)
		}
		q.items[(q.head+q.count)%len(q.items)] = b
		q.count++
		q.mu.Unlock()
		signal(q.notEmpty)
		return nil
	}
}

// Pop removes and returns the oldest block. It waits up to timeout for one
// to arrive and returns [ErrQueueTimeout] if none does, [ErrQueueClosed]
// once the queue is closed and drained, or ctx.Err() if ctx ends first.
// A non-positive timeout waits until ctx ends or the queue closes.
func (q *BlockQueue) Pop(ctx context.Context, timeout time.Duration) (Block, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		q.mu.Lock()
		if q.count > 0 {
			b := q.items[q.head]
			q.items[q.head] = Block{}
			q.head = (q.head + 1) % len(q.items)
			q.count--
			more := q.count > 0
			q.mu.Unlock()
			signal(q.notFull)
			if more {
				signal(q.notEmpty)
			}
			return b, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Block{}, ErrQueueClosed
		}

		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-expired:
			return Block{}, ErrQueueTimeout
		case <-ctx.Done():
			return Block{}, ctx.Err()
		}
	}
}

// Close stops the queue from accepting blocks and wakes all waiters.
// Blocks already queued can still be popped. Close is idempotent.
func (q *BlockQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued blocks.
func (q *BlockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the maximum number of queued blocks.
func (q *BlockQueue) Cap() int { return len(q.items) }

// Policy returns the overflow policy of the queue.
func (q *BlockQueue) Policy() QueuePolicy { return q.policy }

// Dropped returns the number of blocks evicted under [DropOldest] since the
// queue was created.
func (q *BlockQueue) Dropped() uint64 { return q.dropped.Load() }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
