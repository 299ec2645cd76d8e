package convai

import "sync"

// frameQueue is a bounded FIFO of audio frames. When full, Push evicts the
// oldest frame: bounded staleness is preferred over unbounded memory growth
// or blocking the live audio path.
type frameQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	depth   int
	dropped uint64

	signal chan struct{}
}

func newFrameQueue(depth int) *frameQueue {
	if depth <= 0 {
		depth = 128
	}
	return &frameQueue{depth: depth, signal: make(chan struct{}, 1)}
}

// Push never blocks. Returns false when an old frame was evicted.
func (q *frameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	evicted := false
	if len(q.frames) >= q.depth {
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return !evicted
}

// Pop removes the oldest frame, or returns nil when empty.
func (q *frameQueue) Pop() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f
}

// Wait returns a channel that receives when the queue may be non-empty.
func (q *frameQueue) Wait() <-chan struct{} { return q.signal }

func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports how many frames were evicted since creation.
func (q *frameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue, returning how many frames were discarded.
func (q *frameQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}
