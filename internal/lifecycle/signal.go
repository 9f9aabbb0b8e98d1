// Package lifecycle holds the stop signal shared by the goroutines of one
// session.
package lifecycle

import "sync"

// State is the run state of a Signal.
type State int

const (
	Active State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Signal is a monotonic Active -> Stopped flag. It is never re-armed; each
// session gets a new one.
type Signal struct {
	mu    sync.Mutex
	state State
	done  chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Stop moves the signal to Stopped. Repeated calls are no-ops.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	close(s.done)
}

func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Signal) Stopped() bool {
	return s.State() == Stopped
}

// Done returns a channel closed when the signal stops.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
