package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/protocol"
	"github.com/loqalabs/loqa-live/internal/render"
	"github.com/loqalabs/loqa-live/internal/stt"
	"github.com/loqalabs/loqa-live/internal/transcriptlog"
	"github.com/loqalabs/loqa-live/internal/translate"
	"github.com/loqalabs/loqa-live/internal/ui"
)

// scriptedRecognizer emits its events once `after` chunks were read, then
// either fails with err or keeps consuming audio until the source ends.
type scriptedRecognizer struct {
	after  int
	events []stt.Event
	err    error
	// delay holds off the first read so capture can fill the queue.
	delay time.Duration
}

func (r *scriptedRecognizer) StreamingRecognize(ctx context.Context, cfg stt.StreamConfig, source stt.ChunkSource) (stt.ResponseStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &scriptedStream{events: make(chan stt.Event), cancel: cancel}
	go func() {
		time.Sleep(r.delay)
		chunks := 0
		for {
			if _, ok := source.Next(); !ok {
				s.finish(nil)
				return
			}
			chunks++
			if chunks != r.after {
				continue
			}
			for _, ev := range r.events {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					s.finish(ctx.Err())
					return
				}
			}
			if r.err != nil {
				s.finish(r.err)
				return
			}
		}
	}()
	return s, nil
}

type scriptedStream struct {
	events chan stt.Event
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
}

func (s *scriptedStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

func (s *scriptedStream) Recv() (stt.Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return stt.Event{}, s.err
	}
	return stt.Event{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.cancel()
	return nil
}

type dictTranslator map[string]string

func (d dictTranslator) Translate(ctx context.Context, text, source, target string) string {
	if v, ok := d[text]; ok {
		return v
	}
	return text
}

type recordingNotifier struct {
	mu      sync.Mutex
	started int
	stopped int
	expired int
	errors  []string
}

func (n *recordingNotifier) Started(source, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *recordingNotifier) Stopped() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped++
}

func (n *recordingNotifier) SessionExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) counts() (started, stopped, expired, errs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started, n.stopped, n.expired, len(n.errors)
}

type statusRecorder struct {
	mu     sync.Mutex
	states []protocol.SessionState
}

func (r *statusRecorder) ObserveStatus(ctx context.Context, s protocol.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
	return nil
}

func (r *statusRecorder) snapshot() []protocol.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.SessionState(nil), r.states...)
}

// flakyOpener reads `good` chunks of silence, then fails.
type flakyOpener struct {
	good int
}

func (flakyOpener) Devices() (map[string]int, error) {
	return map[string]int{"flaky mic": 3}, nil
}

func (o flakyOpener) Open(index int, format audio.Format) (audio.Device, error) {
	return &flakyDevice{left: o.good}, nil
}

type flakyDevice struct {
	mu   sync.Mutex
	left int
}

func (d *flakyDevice) Read(buf []byte) error {
	time.Sleep(5 * time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.left == 0 {
		return errors.New("input overflowed")
	}
	d.left--
	clear(buf)
	return nil
}

func (d *flakyDevice) Close() error { return nil }

type harness struct {
	manager  *Manager
	display  *ui.Display
	notifier *recordingNotifier
	statuses *statusRecorder
	logs     *transcriptlog.Logs
}

func newHarness(t *testing.T, opener audio.Opener, device string, rec stt.Recognizer) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loop := ui.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	renderCfg := config.RenderConfig{MaxSegments: 500, TrimBatch: 50}
	display := ui.NewDisplay(loop, render.New(renderCfg), nil)

	logs, err := transcriptlog.New(config.TranscriptsConfig{
		Directory:        filepath.Join(t.TempDir(), "results"),
		OriginalPrefix:   "original_text",
		TranslatedPrefix: "translated_text",
	}, time.Now())
	if err != nil {
		t.Fatalf("transcript logs: %v", err)
	}

	h := &harness{
		display:  display,
		notifier: &recordingNotifier{},
		statuses: &statusRecorder{},
		logs:     logs,
	}
	h.manager = NewManager(Options{
		Audio:   config.AudioConfig{SampleRate: 16000, Channels: 1, ChunkMS: 10, QueueSize: 50},
		STT:     config.STTConfig{InterimResults: true, AutomaticPunctuation: true},
		Session: config.SessionConfig{StopTimeoutMS: 1000, PollIntervalMS: 10},
		Settings: StaticSettings(Settings{
			Device:         device,
			SourceLanguage: "English (US)",
			TargetLanguage: "Korean",
		}),
		Opener: opener,
		Recognizers: func(ctx context.Context, chunkDuration time.Duration) (stt.Recognizer, error) {
			return rec, nil
		},
		Translator:      dictTranslator{"hel": "헬", "hello": "안녕"},
		Logs:            logs,
		StatusObservers: []StatusObserver{h.statuses},
		Display:         display,
		Notifier:        h.notifier,
		Logger:          logger,
	})

	t.Cleanup(func() {
		h.manager.Shutdown(context.Background())
		cancel()
		<-loopDone
	})
	return h
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func helloRecognizer() *scriptedRecognizer {
	return &scriptedRecognizer{
		after: 3,
		events: []stt.Event{
			{Text: "hel"},
			{Text: "hello", IsFinal: true},
		},
	}
}

func TestSessionEndToEnd(t *testing.T) {
	h := newHarness(t, audio.SilenceOpener{Realtime: true}, audio.SilenceDeviceName, helloRecognizer())
	ctx := context.Background()

	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := h.manager.Status(); st.State != ui.StatusRunning || st.TargetLanguage != "Korean" || st.Device != "silence" {
		t.Fatalf("unexpected status %+v", st)
	}
	waitFor(t, 3*time.Second, "both results delivered", func() bool {
		return h.manager.Status().Delivered == 2
	})
	if err := h.manager.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	snap, ok := h.display.Snapshot()
	if !ok {
		t.Fatal("display loop gone")
	}
	if len(snap.Original) != 1 || snap.Original[0] != "hello" {
		t.Fatalf("original pane = %q", snap.Original)
	}
	if len(snap.Translated) != 1 || snap.Translated[0] != "안녕" {
		t.Fatalf("translated pane = %q", snap.Translated)
	}
	if snap.Overlay != "안녕" {
		t.Fatalf("overlay = %q", snap.Overlay)
	}

	if got := readLines(t, h.logs.OriginalPath()); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("original log = %q", got)
	}
	if got := readLines(t, h.logs.TranslatedPath()); len(got) != 1 || got[0] != "안녕" {
		t.Fatalf("translated log = %q", got)
	}

	started, stopped, expired, errs := h.notifier.counts()
	if started != 1 || stopped != 1 || expired != 0 || errs != 0 {
		t.Fatalf("notifications started=%d stopped=%d expired=%d errors=%d", started, stopped, expired, errs)
	}
	states := h.statuses.snapshot()
	if len(states) != 2 || states[0] != protocol.SessionStarted || states[1] != protocol.SessionStopped {
		t.Fatalf("status events = %v", states)
	}
	if st := h.manager.Status(); st.State != ui.StatusIdle {
		t.Fatalf("expected idle after stop, got %v", st.State)
	}
}

func TestSessionExpiryNotifiesOnce(t *testing.T) {
	rec := helloRecognizer()
	rec.err = stt.NewSessionExpiredError(errors.New("maximum stream duration reached"))
	h := newHarness(t, audio.SilenceOpener{Realtime: true}, "", rec)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, "expiry notification", func() bool {
		_, _, expired, _ := h.notifier.counts()
		return expired > 0
	})
	waitFor(t, time.Second, "session retired", func() bool { return !h.manager.Running() })

	time.Sleep(100 * time.Millisecond)
	started, _, expired, errs := h.notifier.counts()
	if started != 1 || expired != 1 || errs != 0 {
		t.Fatalf("notifications started=%d expired=%d errors=%d", started, expired, errs)
	}
	if st := h.manager.Status(); st.State != ui.StatusIdle {
		t.Fatalf("expected idle after expiry, got %v", st.State)
	}
	if got := readLines(t, h.logs.OriginalPath()); len(got) != 1 {
		t.Fatalf("expected a single final line, got %q", got)
	}
	states := h.statuses.snapshot()
	if len(states) != 2 || states[1] != protocol.SessionExpired {
		t.Fatalf("status events = %v", states)
	}
	if err := h.manager.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after expiry, got %v", err)
	}
}

func TestSessionDeviceFailure(t *testing.T) {
	rec := &scriptedRecognizer{}
	h := newHarness(t, flakyOpener{good: 5}, "flaky mic", rec)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, "error notification", func() bool {
		_, _, _, errs := h.notifier.counts()
		return errs > 0
	})
	waitFor(t, time.Second, "session retired", func() bool { return !h.manager.Running() })

	st := h.manager.Status()
	if st.State != ui.StatusError || !strings.Contains(st.Error, "input overflowed") {
		t.Fatalf("unexpected status %+v", st)
	}
	if !strings.Contains(h.notifier.errors[0], "flaky mic") {
		t.Fatalf("error should name the device: %q", h.notifier.errors[0])
	}
}

func TestSessionNaturalEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	// 50 ms of silence at 16 kHz.
	if err := audio.EncodeWAV(f, make([]byte, 1600), 16000, 1); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	f.Close()

	opener := audio.WavOpener{Path: path}
	rec := &scriptedRecognizer{after: 1, events: []stt.Event{{Text: "hello", IsFinal: true}}}
	h := newHarness(t, opener, opener.DeviceName(), rec)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, "session end", func() bool { return !h.manager.Running() })

	states := h.statuses.snapshot()
	if len(states) != 2 || states[1] != protocol.SessionEnded {
		t.Fatalf("status events = %v", states)
	}
	if got := readLines(t, h.logs.TranslatedPath()); len(got) != 1 || got[0] != "안녕" {
		t.Fatalf("translated log = %q", got)
	}
	if _, _, _, errs := h.notifier.counts(); errs != 0 {
		t.Fatalf("unexpected error notifications: %v", h.notifier.errors)
	}
}

func TestSessionEndsWhenClipFillsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	// Exactly 50 chunks of 10 ms, the harness queue capacity.
	if err := audio.EncodeWAV(f, make([]byte, 50*320), 16000, 1); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	f.Close()

	opener := audio.WavOpener{Path: path}
	rec := &scriptedRecognizer{
		after:  50,
		events: []stt.Event{{Text: "hello", IsFinal: true}},
		delay:  300 * time.Millisecond,
	}
	h := newHarness(t, opener, opener.DeviceName(), rec)

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, "session end after a full queue", func() bool { return !h.manager.Running() })

	if states := h.statuses.snapshot(); len(states) != 2 || states[1] != protocol.SessionEnded {
		t.Fatalf("status events = %v", states)
	}
	if got := readLines(t, h.logs.OriginalPath()); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("original log = %q", got)
	}
}

func TestSessionRestartClearsPanes(t *testing.T) {
	h := newHarness(t, audio.SilenceOpener{Realtime: true}, audio.SilenceDeviceName, helloRecognizer())
	ctx := context.Background()

	for round := 1; round <= 2; round++ {
		if err := h.manager.Start(ctx); err != nil {
			t.Fatalf("start round %d: %v", round, err)
		}
		waitFor(t, 3*time.Second, fmt.Sprintf("round %d results", round), func() bool {
			return h.manager.Status().Delivered == 2
		})
		if err := h.manager.Stop(ctx); err != nil {
			t.Fatalf("stop round %d: %v", round, err)
		}
		snap, _ := h.display.Snapshot()
		if len(snap.Original) != 1 {
			t.Fatalf("round %d: expected one line after restart, got %q", round, snap.Original)
		}
	}
	if got := readLines(t, h.logs.OriginalPath()); len(got) != 2 {
		t.Fatalf("expected both sessions in the log, got %q", got)
	}
}

func (m *Manager) currentHandles() *handles {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func TestSessionRestartUsesFreshSignal(t *testing.T) {
	h := newHarness(t, audio.SilenceOpener{Realtime: true}, audio.SilenceDeviceName, helloRecognizer())
	ctx := context.Background()

	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := h.manager.currentHandles()
	if err := h.manager.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	second := h.manager.currentHandles()
	defer h.manager.Stop(ctx)

	if first.sig == second.sig {
		t.Fatal("sessions share a stop signal")
	}
	if !first.sig.Stopped() {
		t.Fatal("the previous session's signal was re-armed")
	}
	if second.sig.Stopped() {
		t.Fatal("the new session's signal should be active")
	}
}

func TestSessionLifecycleErrors(t *testing.T) {
	h := newHarness(t, audio.SilenceOpener{Realtime: true}, audio.SilenceDeviceName, helloRecognizer())
	ctx := context.Background()

	if err := h.manager.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	running, err := h.manager.Toggle(ctx)
	if err != nil || !running {
		t.Fatalf("toggle on: running=%v err=%v", running, err)
	}
	if err := h.manager.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	running, err = h.manager.Toggle(ctx)
	if err != nil || running {
		t.Fatalf("toggle off: running=%v err=%v", running, err)
	}
	if err := h.manager.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown when idle: %v", err)
	}
}

func TestSessionRejectsBadSelections(t *testing.T) {
	h := newHarness(t, audio.SilenceOpener{}, "USB headset", helloRecognizer())
	if err := h.manager.Start(context.Background()); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if h.manager.Running() {
		t.Fatal("manager should stay idle")
	}

	h.manager.opts.Settings = StaticSettings(Settings{
		Device:         audio.SilenceDeviceName,
		SourceLanguage: "not a language",
		TargetLanguage: "Korean",
	})
	if err := h.manager.Start(context.Background()); !errors.Is(err, translate.ErrUnknownLanguage) {
		t.Fatalf("expected ErrUnknownLanguage, got %v", err)
	}
}
