// Package transcriptlog appends final transcripts and their translations to
// two plain text files, one line per utterance.
package transcriptlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
)

const TimestampLayout = "20060102_150405"

// Logs holds the two file paths. Each append opens, writes and closes the
// file so nothing is buffered across events.
type Logs struct {
	original   string
	translated string
}

// New prepares the log directory. Filenames carry startedAt so every run
// writes a fresh pair.
func New(cfg config.TranscriptsConfig, startedAt time.Time) (*Logs, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts directory: %w", err)
	}
	ts := startedAt.Format(TimestampLayout)
	return &Logs{
		original:   filepath.Join(cfg.Directory, fmt.Sprintf("%s_%s.txt", cfg.OriginalPrefix, ts)),
		translated: filepath.Join(cfg.Directory, fmt.Sprintf("%s_%s.txt", cfg.TranslatedPrefix, ts)),
	}, nil
}

func (l *Logs) OriginalPath() string   { return l.original }
func (l *Logs) TranslatedPath() string { return l.translated }

// AppendFinal writes one line to each file. Both writes are attempted even
// if the first fails.
func (l *Logs) AppendFinal(original, translated string) error {
	return errors.Join(
		appendLine(l.original, original),
		appendLine(l.translated, translated),
	)
}

func appendLine(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript log: %w", err)
	}
	line := strings.ReplaceAll(text, "\n", " ") + "\n"
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write transcript log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript log: %w", err)
	}
	return nil
}
