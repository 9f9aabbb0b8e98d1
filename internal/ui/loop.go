// Package ui owns every piece of display state. All mutation happens on
// the goroutine running Loop.Run; other goroutines hand it closures.
package ui

import (
	"context"
	"sync"
)

type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Run executes posted closures in order until ctx is cancelled or Close is
// called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Do runs fn on the loop and waits for it. It reports false if the loop
// ended first. Calling Do from inside a loop closure deadlocks.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Post queues fn without waiting. It reports false if the loop ended.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loop) Done() <-chan struct{} { return l.done }
