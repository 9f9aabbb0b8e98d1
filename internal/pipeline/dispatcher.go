package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-live/internal/lifecycle"
)

// Sink hands a result to the display. Deliver returns once the display has
// applied it.
type Sink interface {
	Deliver(r Result)
}

// Dispatcher moves results from the queue to the sink one at a time, in
// queue order.
type Dispatcher struct {
	results   *ResultQueue
	sink      Sink
	poll      time.Duration
	logger    *slog.Logger
	delivered atomic.Uint64
}

func NewDispatcher(results *ResultQueue, sink Sink, poll time.Duration, logger *slog.Logger) *Dispatcher {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Dispatcher{
		results: results,
		sink:    sink,
		poll:    poll,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Run returns after the end sentinel, or once sig is stopped and a poll
// finds the queue empty.
func (d *Dispatcher) Run(sig *lifecycle.Signal) {
	for {
		r, end, ok := d.results.Get(d.poll)
		if ok {
			if end {
				d.logger.Debug("results drained", slog.Uint64("delivered", d.delivered.Load()))
				return
			}
			d.sink.Deliver(r)
			d.delivered.Add(1)
			continue
		}
		if sig.Stopped() && d.results.Len() == 0 {
			d.logger.Debug("dispatcher stopped", slog.Uint64("delivered", d.delivered.Load()))
			return
		}
	}
}

func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }
