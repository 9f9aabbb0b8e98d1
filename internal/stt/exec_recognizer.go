package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer turns a batch transcription command into a stream. Audio
// is buffered per utterance; the command runs on the buffer every
// PartialEveryMS of audio for an interim event and once more when the
// utterance reaches UtteranceMS (or the source ends) for the final event.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) StreamingRecognize(ctx context.Context, cfg StreamConfig, source ChunkSource) (ResponseStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream := newEventStream(cancel)
	go r.run(ctx, cfg, source, stream)
	return stream, nil
}

func (r *execRecognizer) run(ctx context.Context, cfg StreamConfig, source ChunkSource, stream *eventStream) {
	bytesPerMS := cfg.SampleRateHz * 2 / 1000
	partialEvery := r.cfg.PartialEveryMS * bytesPerMS
	utterance := r.cfg.UtteranceMS * bytesPerMS

	var buffer []byte
	lastPartial := 0
	flush := func(final bool) bool {
		result, err := r.transcribe(ctx, buffer, cfg, final)
		if err != nil {
			stream.finish(err)
			return false
		}
		if result.Text == "" {
			return true
		}
		return stream.emit(ctx, Event{Text: result.Text, IsFinal: final, Confidence: result.Confidence})
	}

	for {
		chunk, ok := source.Next()
		if !ok {
			break
		}
		buffer = append(buffer, chunk...)

		if utterance > 0 && len(buffer) >= utterance {
			if !flush(true) {
				return
			}
			buffer = buffer[:0]
			lastPartial = 0
			continue
		}
		if cfg.InterimResults && partialEvery > 0 && len(buffer)-lastPartial >= partialEvery {
			if !flush(false) {
				return
			}
			lastPartial = len(buffer)
		}
	}
	if len(buffer) > 0 && !flush(true) {
		return
	}
	stream.finish(nil)
}

func (r *execRecognizer) transcribe(ctx context.Context, pcm []byte, cfg StreamConfig, final bool) (execResult, error) {
	file, err := os.CreateTemp("", "loqa_stt_*.wav")
	if err != nil {
		return execResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, pcm, cfg.SampleRateHz, 1); err != nil {
		return execResult{}, err
	}

	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if cfg.LanguageCode != "" {
		args = append(args, "--language", cfg.LanguageCode)
	}
	if !final {
		args = append(args, "--partial")
	}

	runCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	command := exec.CommandContext(runCtx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return resp, nil
}
