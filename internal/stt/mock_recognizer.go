package stt

import (
	"context"
	"fmt"
	"time"
)

// MockOptions shape the synthetic transcript stream.
type MockOptions struct {
	// ChunksPerPartial emits an interim event every N chunks.
	ChunksPerPartial int

	// ChunksPerUtterance closes the utterance with a final event every N chunks.
	ChunksPerUtterance int

	// SessionLimit ends the stream with ErrSessionExpired once this much
	// audio has been consumed. Zero disables it.
	SessionLimit  time.Duration
	ChunkDuration time.Duration
}

type mockRecognizer struct {
	opts MockOptions
}

func NewMockRecognizer(opts MockOptions) Recognizer {
	if opts.ChunksPerPartial <= 0 {
		opts.ChunksPerPartial = 8
	}
	if opts.ChunksPerUtterance <= 0 {
		opts.ChunksPerUtterance = 40
	}
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = 100 * time.Millisecond
	}
	return &mockRecognizer{opts: opts}
}

func (m *mockRecognizer) StreamingRecognize(ctx context.Context, cfg StreamConfig, source ChunkSource) (ResponseStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream := newEventStream(cancel)
	go m.run(ctx, cfg, source, stream)
	return stream, nil
}

func (m *mockRecognizer) run(ctx context.Context, cfg StreamConfig, source ChunkSource, stream *eventStream) {
	var (
		utterance int
		pending   int
		bytes     int
		consumed  time.Duration
	)
	for {
		if ctx.Err() != nil {
			stream.finish(ctx.Err())
			return
		}
		chunk, ok := source.Next()
		if !ok {
			break
		}
		pending++
		bytes += len(chunk)
		consumed += m.opts.ChunkDuration
		if m.opts.SessionLimit > 0 && consumed > m.opts.SessionLimit {
			stream.finish(NewSessionExpiredError(fmt.Errorf("audio exceeded %s", m.opts.SessionLimit)))
			return
		}

		switch {
		case pending >= m.opts.ChunksPerUtterance:
			if !stream.emit(ctx, mockEvent(cfg, utterance, bytes, true)) {
				stream.finish(ctx.Err())
				return
			}
			utterance++
			pending, bytes = 0, 0
		case cfg.InterimResults && pending%m.opts.ChunksPerPartial == 0:
			if !stream.emit(ctx, mockEvent(cfg, utterance, bytes, false)) {
				stream.finish(ctx.Err())
				return
			}
		}
	}
	if pending > 0 {
		stream.emit(ctx, mockEvent(cfg, utterance, bytes, true))
	}
	stream.finish(nil)
}

func mockEvent(cfg StreamConfig, utterance, length int, final bool) Event {
	mode := "partial"
	if final {
		mode = "final"
	}
	return Event{
		Text:    fmt.Sprintf("[%s %s transcript #%d length=%d]", cfg.LanguageCode, mode, utterance+1, length),
		IsFinal: final,
	}
}
