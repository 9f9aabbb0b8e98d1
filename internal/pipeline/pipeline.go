// Package pipeline runs one recognition session: it feeds captured audio to
// the recognizer, translates each transcript on the critical path and queues
// the results for the display in recognizer order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-live/internal/lifecycle"
	"github.com/loqalabs/loqa-live/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Translator never fails; errors come back as marker text.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) string
}

// TranscriptLog persists final pairs.
type TranscriptLog interface {
	AppendFinal(original, translated string) error
}

// Observer receives every result right after it is queued for the
// display, possibly before the dispatcher delivers it. Errors are logged
// and otherwise ignored.
type Observer interface {
	Observe(ctx context.Context, r Result) error
}

type Options struct {
	SessionID      string
	Stream         stt.StreamConfig
	SourceLanguage string
	TargetLanguage string

	Recognizer stt.Recognizer
	Translator Translator
	Logs       TranscriptLog
	Observers  []Observer
	Results    *ResultQueue
	Logger     *slog.Logger
}

type Pipeline struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	seq   atomic.Uint64

	events  metric.Int64Counter
	dropped metric.Int64Counter
}

func New(opts Options) *Pipeline {
	if opts.Results == nil {
		opts.Results = NewResultQueue()
	}
	p := &Pipeline{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "pipeline"), slog.String("session_id", opts.SessionID)),
	}
	if err := p.initMetrics(); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return p
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-live/pipeline")
	events, err := meter.Int64Counter("loqa.pipeline.events",
		metric.WithDescription("Transcript events turned into results"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64Counter("loqa.pipeline.dropped_interims",
		metric.WithDescription("Interim events discarded while draining"))
	if err != nil {
		return err
	}
	p.events = events
	p.dropped = dropped
	return nil
}

func (p *Pipeline) Results() *ResultQueue { return p.opts.Results }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		p.logger.Debug("pipeline state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run streams src to the recognizer until the response stream ends. It
// returns nil for a clean end or for any failure after sig was stopped;
// otherwise the recognizer error, which matches stt.ErrSessionExpired when
// the service expired the session. The results queue is always closed on
// return.
func (p *Pipeline) Run(ctx context.Context, sig *lifecycle.Signal, src stt.ChunkSource) (err error) {
	defer p.opts.Results.CloseInput()
	defer func() {
		if r := recover(); r != nil {
			p.setState(StateFailed)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	p.setState(StateStreaming)
	stream, err := p.opts.Recognizer.StreamingRecognize(ctx, p.opts.Stream, src)
	if err != nil {
		return p.end(sig, fmt.Errorf("open recognition stream: %w", err))
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			p.setState(StateIdle)
			return nil
		}
		if err != nil {
			return p.end(sig, fmt.Errorf("recognize: %w", err))
		}

		if sig.Stopped() {
			p.setState(StateDraining)
			if !ev.IsFinal {
				if p.dropped != nil {
					p.dropped.Add(ctx, 1)
				}
				continue
			}
		}
		p.handle(ctx, ev)
	}
}

func (p *Pipeline) end(sig *lifecycle.Signal, err error) error {
	if sig.Stopped() {
		p.logger.Debug("recognition ended after stop", slogError(err))
		p.setState(StateIdle)
		return nil
	}
	p.setState(StateFailed)
	return err
}

func (p *Pipeline) handle(ctx context.Context, ev stt.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	translated := p.opts.Translator.Translate(ctx, text, p.opts.SourceLanguage, p.opts.TargetLanguage)
	result := Result{
		SessionID:      p.opts.SessionID,
		Sequence:       p.seq.Add(1),
		Original:       text,
		Translated:     translated,
		IsFinal:        ev.IsFinal,
		SourceLanguage: p.opts.SourceLanguage,
		TargetLanguage: p.opts.TargetLanguage,
		At:             time.Now().UTC(),
	}
	p.opts.Results.Put(result)
	if p.events != nil {
		p.events.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", ev.IsFinal)))
	}

	if ev.IsFinal && p.opts.Logs != nil {
		if err := p.opts.Logs.AppendFinal(result.Original, result.Translated); err != nil {
			p.logger.Warn("failed to append transcript log", slogError(err))
		}
	}
	for _, o := range p.opts.Observers {
		if err := o.Observe(ctx, result); err != nil {
			p.logger.Debug("observer failed", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
