package audio

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-live/internal/lifecycle"
)

// DefaultPollInterval bounds how long Next waits for a chunk before
// re-checking the stop signal.
const DefaultPollInterval = 100 * time.Millisecond

// ChunkSource is the single-use pull adapter the recognizer consumes.
type ChunkSource struct {
	queue *Queue
	sig   *lifecycle.Signal
	poll  time.Duration

	mu    sync.Mutex
	ended bool
}

func NewChunkSource(queue *Queue, sig *lifecycle.Signal, poll time.Duration) *ChunkSource {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &ChunkSource{queue: queue, sig: sig, poll: poll}
}

// Next returns the next chunk in capture order. It returns false once the
// signal is stopped with nothing left to read or the sentinel is seen, and
// keeps returning false afterwards.
func (s *ChunkSource) Next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.ended {
			return nil, false
		}
		if s.sig.Stopped() && s.queue.Len() == 0 {
			s.ended = true
			return nil, false
		}
		chunk, end, ok := s.queue.Pop(s.poll)
		if !ok {
			continue
		}
		if end {
			s.ended = true
			return nil, false
		}
		return chunk, true
	}
}
