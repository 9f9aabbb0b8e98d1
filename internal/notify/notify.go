// Package notify tells the user about session changes outside the
// transcript panes.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-live/internal/config"
)

type Notifier interface {
	Started(source, target string)
	Stopped()
	// SessionExpired is the blocking alert raised when the recognition
	// service ends a session the user did not stop.
	SessionExpired()
	Error(msg string)
}

const (
	titleExpired = "Recognition session expired"
	bodyExpired  = "The speech recognition session reached its time limit and was stopped. Start it again to continue."
)

// New picks the notifier for cfg.Mode.
func New(cfg config.NotificationsConfig, logger *slog.Logger) Notifier {
	switch cfg.Mode {
	case "desktop":
		if cfg.AppName != "" {
			beeep.AppName = cfg.AppName
		}
		return Desktop{logger: logger.With(slog.String("component", "notify"))}
	case "log":
		return Log{logger: logger.With(slog.String("component", "notify"))}
	default:
		return Nop{}
	}
}

// Desktop raises native notifications.
type Desktop struct {
	logger *slog.Logger
}

func (d Desktop) Started(source, target string) {
	d.send(beeep.AppName, "Translating "+source+" to "+target)
}

func (d Desktop) Stopped() {
	d.send(beeep.AppName, "Translation stopped")
}

func (d Desktop) SessionExpired() {
	if err := beeep.Alert(titleExpired, bodyExpired, ""); err != nil {
		d.logger.Warn("failed to send alert", slog.String("error", err.Error()))
	}
}

func (d Desktop) Error(msg string) {
	d.send(beeep.AppName+" error", msg)
}

func (d Desktop) send(title, msg string) {
	if err := beeep.Notify(title, msg, ""); err != nil {
		d.logger.Warn("failed to send notification", slog.String("error", err.Error()))
	}
}

// Log writes notifications to the logger only.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) Log {
	return Log{logger: logger.With(slog.String("component", "notify"))}
}

func (l Log) Started(source, target string) {
	l.logger.Info("translation started", slog.String("source", source), slog.String("target", target))
}

func (l Log) Stopped() { l.logger.Info("translation stopped") }

func (l Log) SessionExpired() { l.logger.Warn(titleExpired) }

func (l Log) Error(msg string) { l.logger.Error("session error", slog.String("error", msg)) }

// Nop discards everything.
type Nop struct{}

func (Nop) Started(source, target string) {}
func (Nop) Stopped()                      {}
func (Nop) SessionExpired()               {}
func (Nop) Error(msg string)              {}
