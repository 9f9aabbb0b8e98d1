package audio

import (
	"sync"
	"time"
)

const pushRetryInterval = 10 * time.Millisecond

type queueItem struct {
	data []byte
	end  bool
}

// Queue is the bounded FIFO between the capture goroutine (sole writer) and
// the chunk source (sole reader). Once closed it accepts nothing further.
type Queue struct {
	items chan queueItem

	// closed and inputDone are guarded by mu so Push, CloseInput and Close
	// never interleave.
	mu        sync.Mutex
	closed    bool
	inputDone bool
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{items: make(chan queueItem, capacity)}
}

// Push enqueues chunk, blocking while the queue is full. It gives up and
// returns false when done fires or the queue has been closed.
func (q *Queue) Push(done <-chan struct{}, chunk []byte) bool {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-done:
			return false
		default:
		}

		q.mu.Lock()
		if q.closed || q.inputDone {
			q.mu.Unlock()
			return false
		}
		select {
		case q.items <- queueItem{data: chunk}:
			q.mu.Unlock()
			return true
		default:
		}
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(pushRetryInterval)
		} else {
			timer.Reset(pushRetryInterval)
		}
		select {
		case <-done:
			return false
		case <-timer.C:
		}
	}
}

// CloseInput marks the end of input. The sentinel is queued when there is
// room; otherwise Pop reports the end once the buffered chunks are drained.
// Pushes after CloseInput are rejected.
func (q *Queue) CloseInput() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.inputDone {
		return
	}
	q.inputDone = true
	select {
	case q.items <- queueItem{end: true}:
	default:
	}
}

// Pop waits up to timeout for the next item. ok is false on timeout; end is
// true when the input has ended and nothing is left to read.
func (q *Queue) Pop(timeout time.Duration) (chunk []byte, end bool, ok bool) {
	if q.drained() {
		return nil, true, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.items:
		return item.data, item.end, true
	case <-timer.C:
		if q.drained() {
			return nil, true, true
		}
		return nil, false, false
	}
}

// drained reports whether input has ended and the buffer is empty.
func (q *Queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inputDone && len(q.items) == 0
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Close rejects further pushes and discards everything buffered. It
// returns the number of discarded chunks.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return q.drainLocked()
}

func (q *Queue) drainLocked() int {
	n := 0
	for {
		select {
		case item := <-q.items:
			if !item.end {
				n++
			}
		default:
			return n
		}
	}
}
