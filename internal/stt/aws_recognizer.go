package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
)

// awsRecognizer streams audio to Amazon Transcribe.
type awsRecognizer struct {
	client *transcribestreaming.Client
	logger *slog.Logger
}

func NewAWSRecognizer(ctx context.Context, region string, logger *slog.Logger) (Recognizer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &awsRecognizer{
		client: transcribestreaming.NewFromConfig(cfg),
		logger: logger.With(slog.String("component", "stt.aws")),
	}, nil
}

func (r *awsRecognizer) StreamingRecognize(ctx context.Context, cfg StreamConfig, source ChunkSource) (ResponseStream, error) {
	if cfg.Encoding != "" && cfg.Encoding != EncodingLinear16 {
		return nil, fmt.Errorf("unsupported encoding %q", cfg.Encoding)
	}
	ctx, cancel := context.WithCancel(ctx)
	out, err := r.client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(cfg.LanguageCode),
		MediaSampleRateHertz: aws.Int32(int32(cfg.SampleRateHz)),
		MediaEncoding:        types.MediaEncodingPcm,
	})
	if err != nil {
		cancel()
		return nil, classifyAWSError(fmt.Errorf("start stream transcription: %w", err))
	}
	es := out.GetStream()
	stream := newEventStream(cancel)

	go r.send(ctx, es, source)
	go r.receive(ctx, cfg, es, stream)
	return stream, nil
}

// send forwards chunks until the source ends, then sends an empty audio
// event so the service flushes its final results.
func (r *awsRecognizer) send(ctx context.Context, es *transcribestreaming.StartStreamTranscriptionEventStream, source ChunkSource) {
	for {
		chunk, ok := source.Next()
		if !ok {
			break
		}
		err := es.Send(ctx, &types.AudioStreamMemberAudioEvent{Value: types.AudioEvent{AudioChunk: chunk}})
		if err != nil {
			r.logger.Debug("audio send failed", slog.String("error", err.Error()))
			return
		}
	}
	if err := es.Send(ctx, &types.AudioStreamMemberAudioEvent{Value: types.AudioEvent{AudioChunk: []byte{}}}); err != nil {
		r.logger.Debug("end of audio send failed", slog.String("error", err.Error()))
	}
}

func (r *awsRecognizer) receive(ctx context.Context, cfg StreamConfig, es *transcribestreaming.StartStreamTranscriptionEventStream, stream *eventStream) {
	defer es.Close()
	for event := range es.Events() {
		e, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || e.Value.Transcript == nil {
			continue
		}
		for _, result := range e.Value.Transcript.Results {
			if result.IsPartial && !cfg.InterimResults {
				continue
			}
			if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == nil {
				continue
			}
			ev := Event{Text: *result.Alternatives[0].Transcript, IsFinal: !result.IsPartial}
			if !stream.emit(ctx, ev) {
				stream.finish(ctx.Err())
				return
			}
		}
	}
	if err := es.Err(); err != nil {
		stream.finish(classifyAWSError(err))
		return
	}
	stream.finish(nil)
}

// classifyAWSError maps stream lifetime limits to ErrSessionExpired.
func classifyAWSError(err error) error {
	var limit *types.LimitExceededException
	if errors.As(err, &limit) {
		return NewSessionExpiredError(err)
	}
	var bad *types.BadRequestException
	if errors.As(err, &bad) {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timed out") || strings.Contains(msg, "maximum") {
			return NewSessionExpiredError(err)
		}
	}
	return err
}
