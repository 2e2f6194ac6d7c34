package audio

// FrameAccumulator buffers resampled samples and hands them out in
// fixed-size frames. Samples are appended at the tail by Push and removed
// from the head by TryTakeFrame; no sample is returned twice and order is
// preserved. A single push may complete zero, one or many frames, so
// callers drain it in a loop:
//
//	acc.Push(samples)
//	for frame, ok := acc.TryTakeFrame(); ok; frame, ok = acc.TryTakeFrame() {
//		...
//	}
//
// A FrameAccumulator is not safe for concurrent use.
type FrameAccumulator struct {
	size int
	buf  []float32
	head int
}

// NewFrameAccumulator returns an accumulator emitting frames of frameSize
// samples. A non-positive frameSize selects [FrameSize].
func NewFrameAccumulator(frameSize int) *FrameAccumulator {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &FrameAccumulator{size: frameSize}
}

// FrameSize returns the number of samples per emitted frame.
func (a *FrameAccumulator) FrameSize() int { return a.size }

// Push appends samples to the tail of the buffer. The accumulator keeps
// its own copy.
func (a *FrameAccumulator) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.compact()
	a.buf = append(a.buf, samples...)
}

// TryTakeFrame removes and returns the oldest full frame, or false when
// fewer than FrameSize samples are buffered. The returned slice is owned by
// the caller.
func (a *FrameAccumulator) TryTakeFrame() ([]float32, bool) {
	if a.Len() < a.size {
		return nil, false
	}
	frame := make([]float32, a.size)
	copy(frame, a.buf[a.head:a.head+a.size])
	a.head += a.size
	return frame, true
}

// Len returns the number of buffered samples not yet returned.
func (a *FrameAccumulator) Len() int { return len(a.buf) - a.head }

// Reset discards all buffered samples.
func (a *FrameAccumulator) Reset() {
	a.buf = a.buf[:0]
	a.head = 0
}

// compact moves the unread tail to the front once the consumed head
// dominates the backing array, keeping memory bounded by the largest
// backlog rather than the stream length.
func (a *FrameAccumulator) compact() {
	if a.head == 0 {
		return
	}
	if a.head < len(a.buf)/2 && a.head < a.size*4 {
		return
	}
	n := copy(a.buf, a.buf[a.head:])
	a.buf = a.buf[:n]
	a.head = 0
}
