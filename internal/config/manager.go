package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the active configuration and reloads it when the backing
// file changes. Consumers read a snapshot through Config; running sessions
// keep whatever they captured at start.
type Manager struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	config  Config
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	onLoad  []func(Config)
}

func NewManager(path string, initial Config, logger *slog.Logger) *Manager {
	return &Manager{
		path:   path,
		logger: logger.With(slog.String("component", "config")),
		config: initial,
	}
}

func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnReload registers a callback invoked with each successfully reloaded
// configuration. Must be called before Watch.
func (m *Manager) OnReload(fn func(Config)) {
	m.onLoad = append(m.onLoad, fn)
}

// Watch starts watching the config file's directory. A manager without a
// path is a no-op.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop(ctx)
	m.logger.Info("watching config for changes", slog.String("path", m.path))
	return nil
}

func (m *Manager) Close() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	name := filepath.Base(m.path)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.Reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-ctx.Done():
			return
		}
	}
}

// Reload re-reads the file. An invalid file leaves the previous
// configuration in place.
func (m *Manager) Reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	m.logger.Info("config reloaded",
		slog.String("device", cfg.Session.Device),
		slog.String("source_language", cfg.Session.SourceLanguage),
		slog.String("target_language", cfg.Session.TargetLanguage))
	for _, fn := range m.onLoad {
		fn(cfg)
	}
}
