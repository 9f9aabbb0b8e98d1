package pipeline

import (
	"sync"
	"time"
)

// Result is one translated transcript event, in recognizer order.
type Result struct {
	SessionID      string
	Sequence       uint64
	Original       string
	Translated     string
	IsFinal        bool
	SourceLanguage string
	TargetLanguage string
	At             time.Time
}

type queuedResult struct {
	result Result
	end    bool
}

// ResultQueue is the FIFO between the pipeline (sole writer) and the
// dispatcher (sole reader). Puts never block so a slow display cannot stall
// recognition.
type ResultQueue struct {
	mu     sync.Mutex
	items  []queuedResult
	closed bool
	ready  chan struct{}
}

func NewResultQueue() *ResultQueue {
	return &ResultQueue{ready: make(chan struct{}, 1)}
}

// Put appends r. Results put after CloseInput are dropped.
func (q *ResultQueue) Put(r Result) {
	q.push(queuedResult{result: r})
}

// CloseInput appends the end-of-results sentinel. Later calls are no-ops.
func (q *ResultQueue) CloseInput() {
	q.push(queuedResult{end: true})
}

func (q *ResultQueue) push(item queuedResult) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.closed = item.end
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get waits up to timeout for the next item. ok is false on timeout; end is
// true when the sentinel was dequeued.
func (q *ResultQueue) Get(timeout time.Duration) (r Result, end bool, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queuedResult{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item.result, item.end, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-timer.C:
			return Result{}, false, false
		}
	}
}

// Len counts queued results, excluding the sentinel.
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n > 0 && q.items[n-1].end {
		n--
	}
	return n
}
