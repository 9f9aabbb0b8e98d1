package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/loqalabs/loqa-live/internal/config"
)

type sliceSource struct {
	chunks [][]byte
}

func (s *sliceSource) Next() ([]byte, bool) {
	if len(s.chunks) == 0 {
		return nil, false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

func chunks(n, size int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		src.chunks = append(src.chunks, make([]byte, size))
	}
	return src
}

func collect(t *testing.T, stream ResponseStream) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestMockRecognizerInterimAndFinal(t *testing.T) {
	rec := NewMockRecognizer(MockOptions{ChunksPerPartial: 2, ChunksPerUtterance: 5})
	cfg := StreamConfig{Encoding: EncodingLinear16, SampleRateHz: 16000, LanguageCode: "en-US", InterimResults: true}
	stream, err := rec.StreamingRecognize(context.Background(), cfg, chunks(7, 10))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	events, err := collect(t, stream)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	var kinds []bool
	for _, ev := range events {
		kinds = append(kinds, ev.IsFinal)
	}
	// partial@2, partial@4, final@5, then the trailing 2 chunks close a second utterance.
	want := []bool{false, false, true, false, true}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("unexpected event sequence %v (%v)", kinds, events)
	}
	if !strings.Contains(events[2].Text, "en-US final transcript #1 length=50") {
		t.Fatalf("unexpected final text %q", events[2].Text)
	}
}

func TestMockRecognizerWithoutInterim(t *testing.T) {
	rec := NewMockRecognizer(MockOptions{ChunksPerPartial: 1, ChunksPerUtterance: 3})
	stream, err := rec.StreamingRecognize(context.Background(), StreamConfig{SampleRateHz: 16000}, chunks(3, 4))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	events, err := collect(t, stream)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(events) != 1 || !events[0].IsFinal {
		t.Fatalf("expected a single final event, got %v", events)
	}
}

func TestMockRecognizerSessionLimit(t *testing.T) {
	rec := NewMockRecognizer(MockOptions{SessionLimit: 300 * time.Millisecond, ChunkDuration: 100 * time.Millisecond})
	stream, err := rec.StreamingRecognize(context.Background(), StreamConfig{SampleRateHz: 16000}, chunks(10, 4))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	_, err = collect(t, stream)
	if !IsSessionExpired(err) {
		t.Fatalf("expected session expiry, got %v", err)
	}
}

func TestMockRecognizerCancel(t *testing.T) {
	rec := NewMockRecognizer(MockOptions{ChunksPerPartial: 1, ChunksPerUtterance: 100})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := rec.StreamingRecognize(ctx, StreamConfig{SampleRateHz: 16000, InterimResults: true}, chunks(50, 4))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first recv: %v", err)
	}
	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("stream did not end after cancel")
		default:
		}
		if _, err := stream.Recv(); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				t.Fatalf("unexpected error %v", err)
			}
			return
		}
	}
}

func TestSessionExpiredError(t *testing.T) {
	cause := errors.New("stream exceeded 305s")
	err := fmt.Errorf("recognize: %w", NewSessionExpiredError(cause))
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatal("expected ErrSessionExpired match")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay reachable")
	}
	var expired *SessionExpiredError
	if !errors.As(err, &expired) || expired.Err != cause {
		t.Fatal("expected SessionExpiredError via errors.As")
	}
	if IsSessionExpired(errors.New("connection reset")) {
		t.Fatal("plain errors are not expiry")
	}
}

func TestClassifyAWSError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		expired bool
	}{
		{"limit exceeded", &types.LimitExceededException{Message: aws.String("stream too long")}, true},
		{"idle timeout", &types.BadRequestException{Message: aws.String("Your request timed out because no new audio was received for 15 seconds.")}, true},
		{"bad language", &types.BadRequestException{Message: aws.String("unsupported language code")}, false},
		{"unavailable", &types.ServiceUnavailableException{Message: aws.String("try later")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := IsSessionExpired(classifyAWSError(tc.err))
			if got != tc.expired {
				t.Fatalf("expected expired=%v, got %v", tc.expired, got)
			}
		})
	}
}

func TestExecRecognizerStreams(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	body := `#!/bin/sh
case "$*" in
  *--partial*) echo '{"text":"hel","confidence":0.4}' ;;
  *) echo '{"text":"hello","confidence":0.9}' ;;
esac
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: "sh " + script, PartialEveryMS: 100, UtteranceMS: 300})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	cfg := StreamConfig{SampleRateHz: 16000, LanguageCode: "en-US", InterimResults: true}
	// 100ms chunks at 16 kHz mono PCM16.
	stream, err := rec.StreamingRecognize(context.Background(), cfg, chunks(3, 3200))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	events, err := collect(t, stream)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	want := []Event{
		{Text: "hel", Confidence: 0.4},
		{Text: "hel", Confidence: 0.4},
		{Text: "hello", IsFinal: true, Confidence: 0.9},
	}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTConfig{Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestFactoryMapsMockTiming(t *testing.T) {
	rec, err := New(context.Background(), config.STTConfig{
		Mode:           "mock",
		PartialEveryMS: 250,
		UtteranceMS:    1000,
	}, 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	mock, ok := rec.(*mockRecognizer)
	if !ok {
		t.Fatalf("expected mock recognizer, got %T", rec)
	}
	if mock.opts.ChunksPerPartial != 3 || mock.opts.ChunksPerUtterance != 10 {
		t.Fatalf("unexpected chunk counts %+v", mock.opts)
	}

	if _, err := New(context.Background(), config.STTConfig{Mode: "whisper"}, time.Second, nil); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}
