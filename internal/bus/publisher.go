package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/protocol"
)

// StreamName retains final translations and session status on JetStream.
const StreamName = "LOQA_LIVE"

// Publisher fans session output out to bus subscribers.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

func NewPublisher(client *Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log.With(slog.String("component", "bus-publisher"))}
}

// Retain asks JetStream to keep finals and status messages for maxAge.
func (p *Publisher) Retain(maxAge time.Duration) error {
	return p.client.EnsureStream(StreamName, []string{
		protocol.SubjectTranscriptFinal,
		protocol.SubjectTranslationFinal,
		protocol.SubjectSessionStatus,
	}, maxAge)
}

// Observe publishes the transcript and its translation.
func (p *Publisher) Observe(ctx context.Context, r pipeline.Result) error {
	transcript := protocol.Transcript{
		SessionID: r.SessionID,
		Sequence:  r.Sequence,
		Text:      r.Original,
		Language:  r.SourceLanguage,
		Partial:   !r.IsFinal,
		Timestamp: r.At,
	}
	translation := protocol.Translation{
		SessionID:      r.SessionID,
		Sequence:       r.Sequence,
		Original:       r.Original,
		Translated:     r.Translated,
		SourceLanguage: r.SourceLanguage,
		TargetLanguage: r.TargetLanguage,
		Partial:        !r.IsFinal,
		Timestamp:      r.At,
	}
	return errors.Join(
		p.publish(protocol.TranscriptSubject(!r.IsFinal), transcript),
		p.publish(protocol.TranslationSubject(!r.IsFinal), translation),
	)
}

// ObserveStatus publishes a session lifecycle change.
func (p *Publisher) ObserveStatus(ctx context.Context, s protocol.SessionStatus) error {
	return p.publish(protocol.SubjectSessionStatus, s)
}

func (p *Publisher) publish(subject string, msg any) error {
	return p.client.PublishJSON(subject, msg)
}
