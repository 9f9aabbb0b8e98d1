package stt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
)

// New builds the recognizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.STTConfig, chunkDuration time.Duration, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(MockOptions{
			ChunksPerPartial:   chunksFor(cfg.PartialEveryMS, chunkDuration),
			ChunksPerUtterance: chunksFor(cfg.UtteranceMS, chunkDuration),
			SessionLimit:       time.Duration(cfg.SessionLimitMS) * time.Millisecond,
			ChunkDuration:      chunkDuration,
		}), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "aws":
		return NewAWSRecognizer(ctx, cfg.Region, logger)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

// chunksFor converts a duration in milliseconds to a chunk count, rounding
// up. Zero leaves the mock default in place.
func chunksFor(ms int, chunk time.Duration) int {
	if ms <= 0 || chunk <= 0 {
		return 0
	}
	d := time.Duration(ms) * time.Millisecond
	return int((d + chunk - 1) / chunk)
}

// StreamConfigFor builds the per-session stream configuration.
func StreamConfigFor(cfg config.STTConfig, sampleRate int, languageCode string) StreamConfig {
	return StreamConfig{
		Encoding:             EncodingLinear16,
		SampleRateHz:         sampleRate,
		LanguageCode:         languageCode,
		InterimResults:       cfg.InterimResults,
		AutomaticPunctuation: cfg.AutomaticPunctuation,
	}
}
