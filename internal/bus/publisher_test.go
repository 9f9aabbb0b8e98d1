package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/natsserver"
	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/protocol"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func startBus(t *testing.T) *Client {
	t.Helper()
	logger := testLogger
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), "loqa-live-test", config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublisherObserve(t *testing.T) {
	client := startBus(t)
	pub := NewPublisher(client, testLogger)

	transcripts, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	translations, err := client.Conn().SubscribeSync(protocol.SubjectTranslationFinal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	partials, err := client.Conn().SubscribeSync(protocol.SubjectTranslationPartial)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	result := pipeline.Result{
		SessionID:      "s-1",
		Sequence:       2,
		Original:       "hello",
		Translated:     "안녕",
		IsFinal:        true,
		SourceLanguage: "en-US",
		TargetLanguage: "ko",
		At:             time.Now().UTC(),
	}
	if err := pub.Observe(context.Background(), pipeline.Result{SessionID: "s-1", Sequence: 1, Original: "hel", Translated: "헬"}); err != nil {
		t.Fatalf("observe partial: %v", err)
	}
	if err := pub.Observe(context.Background(), result); err != nil {
		t.Fatalf("observe final: %v", err)
	}

	msg, err := transcripts.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if transcript.Text != "hello" || transcript.Partial || transcript.Language != "en-US" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}

	msg, err = translations.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("translation: %v", err)
	}
	var translation protocol.Translation
	if err := json.Unmarshal(msg.Data, &translation); err != nil {
		t.Fatalf("decode translation: %v", err)
	}
	if translation.Translated != "안녕" || translation.Sequence != 2 {
		t.Fatalf("unexpected translation %+v", translation)
	}

	msg, err = partials.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("partial: %v", err)
	}
	if err := json.Unmarshal(msg.Data, &translation); err != nil {
		t.Fatalf("decode partial: %v", err)
	}
	if !translation.Partial || translation.Translated != "헬" {
		t.Fatalf("unexpected partial %+v", translation)
	}
}

func TestPublisherRetainsFinals(t *testing.T) {
	client := startBus(t)
	pub := NewPublisher(client, testLogger)
	if err := pub.Retain(time.Hour); err != nil {
		t.Fatalf("retain: %v", err)
	}
	// A second call updates the existing stream.
	if err := pub.Retain(2 * time.Hour); err != nil {
		t.Fatalf("retain again: %v", err)
	}

	status := protocol.SessionStatus{SessionID: "s-1", State: protocol.SessionStarted, Timestamp: time.Now().UTC()}
	if err := pub.ObserveStatus(context.Background(), status); err != nil {
		t.Fatalf("observe status: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := client.StreamMessages(StreamName)
		if err != nil {
			t.Fatalf("stream info: %v", err)
		}
		if msgs == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one retained message, got %d", msgs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
