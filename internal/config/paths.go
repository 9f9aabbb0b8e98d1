package config

import (
	"os"
	"path/filepath"
)

const socketName = "control.sock"

// defaultSocketPath resolves ~/.cache/loqa-live/control.sock, falling back
// to the temp dir when no cache dir is available.
func defaultSocketPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "loqa-live", socketName)
}
