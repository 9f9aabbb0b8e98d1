// Package session owns the start/stop lifecycle of a translation session:
// it builds a fresh set of workers for every start, supervises them and
// retires them before anything new is created.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/lifecycle"
	"github.com/loqalabs/loqa-live/internal/notify"
	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/protocol"
	"github.com/loqalabs/loqa-live/internal/stt"
	"github.com/loqalabs/loqa-live/internal/translate"
	"github.com/loqalabs/loqa-live/internal/ui"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
	ErrUnknownDevice  = errors.New("selected audio device not found")
)

// Settings are the user selections read before every start.
type Settings struct {
	Device         string
	SourceLanguage string
	TargetLanguage string
}

type SettingsProvider interface {
	Settings() Settings
}

// SettingsFunc adapts a function to SettingsProvider.
type SettingsFunc func() Settings

func (f SettingsFunc) Settings() Settings { return f() }

// StaticSettings always returns the same selection.
func StaticSettings(s Settings) SettingsProvider {
	return SettingsFunc(func() Settings { return s })
}

// RecognizerFactory creates the recognizer for one session.
type RecognizerFactory func(ctx context.Context, chunkDuration time.Duration) (stt.Recognizer, error)

// Display is what the session needs from the UI side.
type Display interface {
	pipeline.Sink
	Reset()
	SetStatus(status ui.Status, detail string)
}

// StatusObserver is told about session starts and ends.
type StatusObserver interface {
	ObserveStatus(ctx context.Context, s protocol.SessionStatus) error
}

type Options struct {
	Audio   config.AudioConfig
	STT     config.STTConfig
	Session config.SessionConfig

	Settings        SettingsProvider
	Opener          audio.Opener
	Recognizers     RecognizerFactory
	Translator      pipeline.Translator
	Logs            pipeline.TranscriptLog
	Observers       []pipeline.Observer
	StatusObservers []StatusObserver
	Display         Display
	Notifier        notify.Notifier
	Logger          *slog.Logger
}

// Status is a snapshot of the manager.
type Status struct {
	State          ui.Status
	SessionID      string
	Device         string
	SourceLanguage string
	TargetLanguage string
	StartedAt      time.Time
	Delivered      uint64
	Error          string
}

// Manager is the only component that stops a session's signal.
type Manager struct {
	opts   Options
	logger *slog.Logger

	// opMu serializes start, stop and failure handling.
	opMu sync.Mutex

	mu      sync.Mutex
	current *handles
	status  Status
}

func NewManager(opts Options) *Manager {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "session")),
		status: Status{State: ui.StatusIdle},
	}
}

type handles struct {
	id        string
	device    string
	source    translate.Language
	target    translate.Language
	startedAt time.Time

	// sig belongs to this session only, so workers that outlive their
	// join timeout never observe a later session as active.
	sig        *lifecycle.Signal
	capture    *audio.Capture
	pipeline   *pipeline.Pipeline
	dispatcher *pipeline.Dispatcher
	cancel     context.CancelFunc

	captureDone  chan struct{}
	pipelineDone chan struct{}
	dispatchDone chan struct{}
	done         chan struct{}
	errs         chan error

	stopping chan struct{}
	stopOnce sync.Once
}

func (h *handles) report(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

// Start builds and launches a new session from the current settings.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.startLocked(ctx)
}

// Stop retires the running session.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopLocked()
}

// Toggle stops a running session or starts a new one. It reports whether a
// session is running afterwards.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.running() {
		return false, m.stopLocked()
	}
	if err := m.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown stops whatever is running. It is safe to call when idle.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Stop(ctx)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (m *Manager) Running() bool {
	return m.running()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if m.current != nil {
		st.Delivered = m.current.dispatcher.Delivered()
	}
	return st
}

func (m *Manager) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.running() {
		return ErrAlreadyRunning
	}

	settings := m.opts.Settings.Settings()
	source, err := translate.Lookup(settings.SourceLanguage)
	if err != nil {
		return fmt.Errorf("resolve source language: %w", err)
	}
	target, err := translate.Lookup(settings.TargetLanguage)
	if err != nil {
		return fmt.Errorf("resolve target language: %w", err)
	}

	index, device, err := m.resolveDevice(settings.Device)
	if err != nil {
		return err
	}

	format := audio.FormatFromConfig(m.opts.Audio)
	queue := audio.NewQueue(m.opts.Audio.QueueSize)
	sig := lifecycle.NewSignal()
	capture, err := audio.Open(m.opts.Opener, index, device, format, queue, m.logger)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	recognizer, err := m.opts.Recognizers(sessCtx, format.ChunkDuration())
	if err != nil {
		cancel()
		capture.Close()
		return fmt.Errorf("create recognizer: %w", err)
	}

	id := uuid.NewString()
	poll := time.Duration(m.opts.Session.PollIntervalMS) * time.Millisecond
	m.opts.Display.Reset()

	results := pipeline.NewResultQueue()
	p := pipeline.New(pipeline.Options{
		SessionID:      id,
		Stream:         stt.StreamConfigFor(m.opts.STT, format.SampleRate, source.Recognition),
		SourceLanguage: source.Recognition,
		TargetLanguage: target.Translation,
		Recognizer:     recognizer,
		Translator:     m.opts.Translator,
		Logs:           m.opts.Logs,
		Observers:      m.opts.Observers,
		Results:        results,
		Logger:         m.logger,
	})

	h := &handles{
		id:           id,
		device:       device,
		source:       source,
		target:       target,
		startedAt:    time.Now().UTC(),
		sig:          sig,
		capture:      capture,
		pipeline:     p,
		dispatcher:   pipeline.NewDispatcher(results, m.opts.Display, poll, m.logger),
		cancel:       cancel,
		captureDone:  make(chan struct{}),
		pipelineDone: make(chan struct{}),
		dispatchDone: make(chan struct{}),
		done:         make(chan struct{}),
		errs:         make(chan error, 3),
		stopping:     make(chan struct{}),
	}
	src := audio.NewChunkSource(queue, sig, poll)
	m.launch(sessCtx, h, src)

	m.mu.Lock()
	m.current = h
	m.status = Status{
		State:          ui.StatusRunning,
		SessionID:      id,
		Device:         device,
		SourceLanguage: source.Name,
		TargetLanguage: target.Name,
		StartedAt:      h.startedAt,
	}
	m.mu.Unlock()

	m.logger.Info("session started",
		slog.String("session_id", id),
		slog.String("device", device),
		slog.String("source", source.Recognition),
		slog.String("target", target.Translation))
	m.opts.Display.SetStatus(ui.StatusRunning, fmt.Sprintf("%s → %s", source.Name, target.Name))
	m.opts.Notifier.Started(source.Name, target.Name)
	m.publish(h, protocol.SessionStarted, "")
	return nil
}

func (m *Manager) launch(ctx context.Context, h *handles, src *audio.ChunkSource) {
	sig := h.sig
	go func() {
		defer close(h.captureDone)
		if err := h.capture.ReadLoop(sig); err != nil {
			h.report(err)
		}
	}()
	go func() {
		defer close(h.pipelineDone)
		if err := h.pipeline.Run(ctx, sig, src); err != nil {
			h.report(err)
		}
	}()
	go func() {
		defer close(h.dispatchDone)
		h.dispatcher.Run(sig)
	}()
	go func() {
		<-h.captureDone
		<-h.pipelineDone
		<-h.dispatchDone
		close(h.done)
	}()
	go m.supervise(h)
}

// supervise acts on the first worker error, or on all workers finishing
// on their own (a finite input ran out).
func (m *Manager) supervise(h *handles) {
	select {
	case err := <-h.errs:
		m.fail(h, err)
	case <-h.done:
		select {
		case err := <-h.errs:
			m.fail(h, err)
		default:
			m.finish(h)
		}
	case <-h.stopping:
	}
}

func (m *Manager) fail(h *handles, err error) {
	m.opMu.Lock()
	if !m.retire(h) {
		m.opMu.Unlock()
		return
	}

	expired := stt.IsSessionExpired(err)
	m.mu.Lock()
	if expired {
		m.status = Status{State: ui.StatusIdle}
	} else {
		m.status = Status{State: ui.StatusError, Error: err.Error()}
	}
	m.mu.Unlock()
	m.opMu.Unlock()

	if expired {
		m.logger.Warn("recognition session expired", slog.String("session_id", h.id), slogError(err))
		m.opts.Display.SetStatus(ui.StatusIdle, "session expired")
		m.publish(h, protocol.SessionExpired, err.Error())
		m.opts.Notifier.SessionExpired()
		return
	}
	m.logger.Error("session failed", slog.String("session_id", h.id), slogError(err))
	m.opts.Display.SetStatus(ui.StatusError, err.Error())
	m.publish(h, protocol.SessionFailed, err.Error())
	m.opts.Notifier.Error(err.Error())
}

func (m *Manager) finish(h *handles) {
	m.opMu.Lock()
	if !m.retire(h) {
		m.opMu.Unlock()
		return
	}
	m.mu.Lock()
	m.status = Status{State: ui.StatusIdle}
	m.mu.Unlock()
	m.opMu.Unlock()

	m.logger.Info("session ended", slog.String("session_id", h.id))
	m.opts.Display.SetStatus(ui.StatusIdle, "input ended")
	m.publish(h, protocol.SessionEnded, "")
	m.opts.Notifier.Stopped()
}

func (m *Manager) stopLocked() error {
	m.mu.Lock()
	h := m.current
	m.mu.Unlock()
	if h == nil {
		return ErrNotRunning
	}
	m.retire(h)
	m.mu.Lock()
	m.status = Status{State: ui.StatusIdle}
	m.mu.Unlock()

	m.logger.Info("session stopped", slog.String("session_id", h.id))
	m.opts.Display.SetStatus(ui.StatusIdle, "")
	m.publish(h, protocol.SessionStopped, "")
	m.opts.Notifier.Stopped()
	return nil
}

// retire stops and joins h if it is still the current session. Callers
// hold opMu.
func (m *Manager) retire(h *handles) bool {
	m.mu.Lock()
	if m.current != h {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stopping) })
	h.sig.Stop()

	timeout := time.Duration(m.opts.Session.StopTimeoutMS) * time.Millisecond
	m.join(h, "capture", h.captureDone, timeout)
	if err := h.capture.Close(); err != nil {
		m.logger.Warn("failed to close audio device", slogError(err))
	}
	m.join(h, "pipeline", h.pipelineDone, timeout)
	h.cancel()
	m.join(h, "dispatcher", h.dispatchDone, timeout)

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return true
}

func (m *Manager) join(h *handles, worker string, done <-chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("worker did not stop in time",
			slog.String("session_id", h.id),
			slog.String("worker", worker),
			slog.Duration("timeout", timeout))
	}
}

func (m *Manager) resolveDevice(name string) (int, string, error) {
	index, err := audio.Resolve(m.opts.Opener, name)
	if err != nil {
		if errors.Is(err, audio.ErrUnknownDevice) {
			names, _ := audio.DeviceNames(m.opts.Opener)
			m.logger.Error("selected audio device not found",
				slog.String("device", name),
				slog.Any("available", names))
			return 0, "", fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}
		return 0, "", fmt.Errorf("resolve audio device: %w", err)
	}
	if name != "" {
		return index, name, nil
	}
	devices, err := m.opts.Opener.Devices()
	if err == nil {
		for n, idx := range devices {
			if idx == index {
				return index, n, nil
			}
		}
	}
	return index, fmt.Sprintf("device %d", index), nil
}

func (m *Manager) publish(h *handles, state protocol.SessionState, reason string) {
	if len(m.opts.StatusObservers) == 0 {
		return
	}
	st := protocol.SessionStatus{
		SessionID:      h.id,
		State:          state,
		Device:         h.device,
		SourceLanguage: h.source.Recognition,
		TargetLanguage: h.target.Translation,
		Reason:         reason,
		Timestamp:      time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, o := range m.opts.StatusObservers {
		if err := o.ObserveStatus(ctx, st); err != nil {
			m.logger.Debug("status observer failed", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
