package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/control"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.HTTP.Port = freePort(t)
	cfg.Audio.Backend = "silence"
	cfg.Audio.ChunkMS = 20
	cfg.STT.Mode = "mock"
	cfg.STT.PartialEveryMS = 40
	cfg.STT.UtteranceMS = 100
	cfg.Translation.Mode = "mock"
	cfg.Transcripts.Directory = filepath.Join(dir, "results")
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(dir, "journal.db")
	cfg.Control.Socket = filepath.Join(dir, "ctl.sock")
	cfg.Notifications.Mode = "none"
	cfg.Session.Device = "silence"
	return cfg
}

func waitReply(t *testing.T, socket string, cmd byte, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		out, err := control.SendCommand(socket, cmd)
		if err == nil && strings.Contains(out, want) {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, last reply %q (err %v)", want, out, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRuntimeServesSession(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(config.NewManager("", cfg, logger), logger, io.Discard)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(context.Background()) }()

	waitReply(t, cfg.Control.Socket, control.CmdStatus, "status=running")

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", cfg.HTTP.Port))
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var body statusResponse
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.State != "running" || body.TargetLanguage != "Korean" || body.Device != "silence" {
		t.Fatalf("unexpected status %+v", body)
	}

	// The mock recognizer closes an utterance every 100 ms of audio.
	var logs []string
	deadline := time.Now().Add(5 * time.Second)
	for len(logs) < 2 && time.Now().Before(deadline) {
		logs, _ = filepath.Glob(filepath.Join(cfg.Transcripts.Directory, "*.txt"))
		time.Sleep(20 * time.Millisecond)
	}
	if len(logs) != 2 {
		t.Fatalf("expected both transcript logs, got %v", logs)
	}
	data, err := os.ReadFile(logs[1])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "final transcript") {
		t.Fatalf("unexpected log contents %q", data)
	}

	if out := waitReply(t, cfg.Control.Socket, control.CmdToggle, "OK"); out != "OK stopped" {
		t.Fatalf("toggle: %q", out)
	}
	waitReply(t, cfg.Control.Socket, control.CmdStatus, "status=idle")

	if out, err := control.SendCommand(cfg.Control.Socket, control.CmdQuit); err != nil || out != "OK quitting" {
		t.Fatalf("quit: %q %v", out, err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runtime: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not exit after quit")
	}
}

func TestRuntimeAutostartFailureKeepsRunning(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Enabled = false
	cfg.Session.Device = "missing device"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(config.NewManager("", cfg, logger), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()

	waitReply(t, cfg.Control.Socket, control.CmdStatus, "status=idle")
	out := waitReply(t, cfg.Control.Socket, control.CmdToggle, "ERR")
	if !strings.Contains(out, "missing device") {
		t.Fatalf("toggle should name the device: %q", out)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runtime: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not exit after cancel")
	}
}
