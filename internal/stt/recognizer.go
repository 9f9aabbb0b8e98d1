package stt

import (
	"context"
	"errors"
	"io"
	"sync"
)

const EncodingLinear16 = "LINEAR16"

// StreamConfig is sent once when a recognition stream opens.
type StreamConfig struct {
	Encoding             string
	SampleRateHz         int
	LanguageCode         string
	InterimResults       bool
	AutomaticPunctuation bool
}

// Event is one recognition hypothesis. Interim events for an utterance are
// superseded by later ones; a final event closes the utterance.
type Event struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// ChunkSource yields PCM chunks until it returns false.
type ChunkSource interface {
	Next() ([]byte, bool)
}

// ResponseStream delivers events in order. Recv returns io.EOF once the
// service has flushed everything for a closed audio stream.
type ResponseStream interface {
	Recv() (Event, error)
	Close() error
}

// Recognizer abstracts streaming STT backends.
type Recognizer interface {
	StreamingRecognize(ctx context.Context, cfg StreamConfig, source ChunkSource) (ResponseStream, error)
}

// ErrSessionExpired reports that the remote service ended the stream
// because the session exceeded its allowed lifetime.
var ErrSessionExpired = errors.New("recognition session expired")

// SessionExpiredError carries the backend error behind an expiry.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	if e == nil || e.Err == nil {
		return ErrSessionExpired.Error()
	}
	return ErrSessionExpired.Error() + ": " + e.Err.Error()
}

func (e *SessionExpiredError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

func NewSessionExpiredError(err error) error {
	return &SessionExpiredError{Err: err}
}

func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// eventStream is the channel-backed ResponseStream shared by the backends.
// The producer goroutine sends events and finishes with finish(err).
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newEventStream(cancel context.CancelFunc) *eventStream {
	return &eventStream{events: make(chan Event, 16), cancel: cancel}
}

// emit blocks until the consumer takes ev or ctx ends.
func (s *eventStream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *eventStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}
