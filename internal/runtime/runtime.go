// Package runtime wires configuration, telemetry, the session manager and
// its collaborators into one running process.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/audio/mic"
	"github.com/loqalabs/loqa-live/internal/bus"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/control"
	"github.com/loqalabs/loqa-live/internal/eventstore"
	"github.com/loqalabs/loqa-live/internal/natsserver"
	"github.com/loqalabs/loqa-live/internal/notify"
	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/render"
	"github.com/loqalabs/loqa-live/internal/session"
	"github.com/loqalabs/loqa-live/internal/stt"
	"github.com/loqalabs/loqa-live/internal/transcriptlog"
	"github.com/loqalabs/loqa-live/internal/translate"
	"github.com/loqalabs/loqa-live/internal/ui"
)

type Runtime struct {
	configs     *config.Manager
	logger      *slog.Logger
	out         io.Writer
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	manager *session.Manager
}

// New prepares a runtime. The terminal view draws to out; a nil out runs
// without a view.
func New(configs *config.Manager, logger *slog.Logger, out io.Writer) *Runtime {
	return &Runtime{
		configs: configs,
		logger:  logger,
		out:     out,
	}
}

// Start runs until ctx is cancelled or a quit command arrives.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg := r.configs.Config()
	startedAt := time.Now()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	journal, err := eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer journal.Close()

	publisher, closeBus := r.connectBus(ctx, cfg)
	defer closeBus()

	client, closeTranslator, err := translate.New(cfg.Translation, r.logger)
	if err != nil {
		return fmt.Errorf("create translation client: %w", err)
	}
	defer closeTranslator()
	stage := translate.NewStage(client, time.Duration(cfg.Translation.TimeoutMS)*time.Millisecond, r.logger)

	opener, closeOpener, err := OpenAudio(cfg.Audio, r.logger)
	if err != nil {
		return err
	}
	// Registered before the manager shuts down so PortAudio terminates last.
	defer closeOpener()

	logs, err := transcriptlog.New(cfg.Transcripts, startedAt)
	if err != nil {
		return err
	}

	loop := ui.NewLoop()
	renderer := render.New(cfg.Render)
	var view *ui.View
	if r.out != nil {
		view = ui.NewView(r.out, renderer, cfg.Render)
	}
	display := ui.NewDisplay(loop, renderer, view)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop.Run(ctx)
	}()

	observers := []pipeline.Observer{journal}
	statusObservers := []session.StatusObserver{journal}
	if publisher != nil {
		observers = append(observers, publisher)
		statusObservers = append(statusObservers, publisher)
	}

	r.manager = session.NewManager(session.Options{
		Audio:    cfg.Audio,
		STT:      cfg.STT,
		Session:  cfg.Session,
		Settings: session.SettingsFunc(r.settings),
		Opener:   opener,
		Recognizers: func(ctx context.Context, chunkDuration time.Duration) (stt.Recognizer, error) {
			return stt.New(ctx, cfg.STT, chunkDuration, r.logger)
		},
		Translator:      stage,
		Logs:            logs,
		Observers:       observers,
		StatusObservers: statusObservers,
		Display:         display,
		Notifier:        notify.New(cfg.Notifications, r.logger),
		Logger:          r.logger,
	})

	r.configs.OnReload(func(c config.Config) {
		if r.manager.Running() {
			r.logger.Info("new selections apply at the next start")
		}
	})
	if err := r.configs.Watch(ctx); err != nil {
		r.logger.Warn("config watch disabled", slog.String("error", err.Error()))
	}
	defer r.configs.Close()

	if cfg.HTTP.Enabled {
		r.startHTTP(cfg, metricsHandler)
	}

	if cfg.Control.Enabled {
		srv := control.NewServer(cfg.Control.Socket, r.manager, cancel, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := srv.Serve(ctx); err != nil {
				r.logger.Error("control socket failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.logger.Info("transcript logs ready",
		slog.String("original", logs.OriginalPath()),
		slog.String("translated", logs.TranslatedPath()))

	if cfg.Session.Autostart {
		if err := r.manager.Start(ctx); err != nil {
			r.logger.Error("autostart failed", slog.String("error", err.Error()))
			display.SetStatus(ui.StatusError, err.Error())
		}
	} else {
		display.SetStatus(ui.StatusIdle, "")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started")

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.manager.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("session shutdown error", slog.String("error", err.Error()))
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// settings reads the current selections so reloads apply at the next start.
func (r *Runtime) settings() session.Settings {
	s := r.configs.Config().Session
	return session.Settings{
		Device:         s.Device,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
	}
}

// connectBus starts the embedded server if configured and connects the
// publisher. Bus failures are logged and the session runs without fan-out.
func (r *Runtime) connectBus(ctx context.Context, cfg config.Config) (*bus.Publisher, func()) {
	noop := func() {}
	if !cfg.Bus.Enabled {
		return nil, noop
	}
	busCfg := cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		r.logger.Warn("embedded bus unavailable", slog.String("error", err.Error()))
		return nil, noop
	}
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable, continuing without fan-out", slog.String("error", err.Error()))
		srv.Shutdown()
		return nil, noop
	}
	publisher := bus.NewPublisher(client, r.logger)
	if days := cfg.EventStore.RetentionDays; days > 0 {
		if err := publisher.Retain(time.Duration(days) * 24 * time.Hour); err != nil {
			r.logger.Warn("failed to configure bus retention", slog.String("error", err.Error()))
		}
	}
	return publisher, func() {
		client.Close()
		srv.Shutdown()
	}
}

func (r *Runtime) startHTTP(cfg config.Config, metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server listening", slog.String("addr", addr))
}

// OpenAudio returns the device opener for cfg.Backend and a function that
// releases it.
func OpenAudio(cfg config.AudioConfig, logger *slog.Logger) (audio.Opener, func(), error) {
	switch cfg.Backend {
	case "wav":
		return audio.WavOpener{Path: cfg.WavPath, Loop: cfg.Loop, Realtime: true}, func() {}, nil
	case "silence":
		return audio.SilenceOpener{Realtime: true}, func() {}, nil
	default:
		backend := mic.New(logger)
		if err := backend.Initialize(); err != nil {
			return nil, nil, err
		}
		if name, err := backend.DefaultInputName(); err == nil {
			logger.Info("default input device", slog.String("device", name))
		}
		return backend, func() {
			if err := backend.Terminate(); err != nil {
				logger.Warn("failed to terminate portaudio", slog.String("error", err.Error()))
			}
		}, nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type statusResponse struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	Device         string    `json:"device,omitempty"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	Delivered      uint64    `json:"delivered"`
	Error          string    `json:"error,omitempty"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if r.manager == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	st := r.manager.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		State:          st.State.String(),
		SessionID:      st.SessionID,
		Device:         st.Device,
		SourceLanguage: st.SourceLanguage,
		TargetLanguage: st.TargetLanguage,
		StartedAt:      st.StartedAt,
		Delivered:      st.Delivered,
		Error:          st.Error,
	})
}
