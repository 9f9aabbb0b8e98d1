// Package translate turns recognized text into the target language. The
// Stage never fails its caller: remote errors and unknown languages become
// the ErrorText marker so every transcript still reaches the display.
package translate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrorText replaces the translation when anything goes wrong.
const ErrorText = "[translation error]"

// Client is a remote translation backend. Text is plain text; codes are
// translation codes such as "en" or "zh-TW".
type Client interface {
	Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error)
}

type Stage struct {
	client  Client
	timeout time.Duration
	logger  *slog.Logger

	tracer   trace.Tracer
	latency  metric.Float64Histogram
	failures metric.Int64Counter
}

func NewStage(client Client, timeout time.Duration, logger *slog.Logger) *Stage {
	s := &Stage{
		client:  client,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "translate")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-live/translate"),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Stage) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-live/translate")
	latency, err := meter.Float64Histogram("loqa.translate.latency",
		metric.WithDescription("Translation round trip"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	failures, err := meter.Int64Counter("loqa.translate.errors",
		metric.WithDescription("Translations replaced by the error marker"))
	if err != nil {
		return err
	}
	s.latency = latency
	s.failures = failures
	return nil
}

// Translate returns text in the target language. Whitespace-only input
// returns "" without contacting the backend. source and target may be
// display names or codes.
func (s *Stage) Translate(ctx context.Context, text, source, target string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	src, err := TranslationCode(source)
	if err != nil {
		s.fail(ctx, "resolve source language", err)
		return ErrorText
	}
	dst, err := TranslationCode(target)
	if err != nil {
		s.fail(ctx, "resolve target language", err)
		return ErrorText
	}

	ctx, span := s.tracer.Start(ctx, "translate.text",
		trace.WithAttributes(attribute.String("source", src), attribute.String("target", dst)))
	defer span.End()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	translated, err := s.client.Translate(ctx, text, src, dst)
	if s.latency != nil {
		s.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("target", dst)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, "translate text", err)
		return ErrorText
	}
	return strings.TrimSpace(translated)
}

func (s *Stage) fail(ctx context.Context, op string, err error) {
	s.logger.Warn("translation failed", slog.String("op", op), slogError(err))
	if s.failures != nil {
		s.failures.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
