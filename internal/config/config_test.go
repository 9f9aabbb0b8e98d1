package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.ChunkMS != 100 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Render.MaxSegments != 500 || cfg.Render.TrimBatch != 50 {
		t.Fatalf("unexpected render defaults: %+v", cfg.Render)
	}
	if cfg.Transcripts.Directory != "results" {
		t.Fatalf("expected results dir, got %q", cfg.Transcripts.Directory)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	data := `
session:
  device: "USB Mic"
  source_language: "Japanese"
  target_language: "Korean"
audio:
  backend: silence
stt:
  mode: mock
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.Device != "USB Mic" || cfg.Session.SourceLanguage != "Japanese" {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Audio.Backend != "silence" {
		t.Fatalf("expected silence backend, got %q", cfg.Audio.Backend)
	}
	if cfg.Session.StopTimeoutMS != 1500 {
		t.Fatalf("expected untouched default stop timeout, got %d", cfg.Session.StopTimeoutMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_SESSION_SOURCE_LANGUAGE", "ja-JP")
	t.Setenv("LOQA_SESSION_TARGET_LANGUAGE", "ko")
	t.Setenv("LOQA_SESSION_STOP_TIMEOUT_MS", "2000")
	t.Setenv("LOQA_TRANSLATION_TEMPERATURE", "0.5")
	t.Setenv("LOQA_RENDER_OVERLAY", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Session.SourceLanguage != "ja-JP" || cfg.Session.TargetLanguage != "ko" {
		t.Fatalf("expected language overrides, got %+v", cfg.Session)
	}
	if cfg.Session.StopTimeoutMS != 2000 {
		t.Fatalf("expected stop timeout override")
	}
	if cfg.Translation.Temperature != 0.5 {
		t.Fatalf("expected temperature override, got %v", cfg.Translation.Temperature)
	}
	if cfg.Render.Overlay {
		t.Fatal("expected overlay disabled")
	}
}

func TestTranslationAPIKeyPrecedence(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-openai")
	t.Setenv("LOQA_TRANSLATION_API_KEY", "from-loqa")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Translation.APIKey != "from-loqa" {
		t.Fatalf("expected loqa key to win, got %q", cfg.Translation.APIKey)
	}
}

func TestDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.env")
	if err := os.WriteFile(path, []byte("LOQA_STT_REGION=eu-west-1\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LOQA_DOTENV", path)
	// godotenv sets process env directly; register cleanup for the key it touches.
	t.Setenv("LOQA_STT_REGION", "")
	os.Unsetenv("LOQA_STT_REGION")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Region != "eu-west-1" {
		t.Fatalf("expected region from env file, got %q", cfg.STT.Region)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"exec without command", func(c *Config) { c.STT.Mode = "exec" }, "stt.command"},
		{"unknown stt mode", func(c *Config) { c.STT.Mode = "cloud" }, "stt.mode"},
		{"openai without key", func(c *Config) { c.Translation.Mode = "openai" }, "translation.api_key"},
		{"wav without path", func(c *Config) { c.Audio.Backend = "wav" }, "audio.wav_path"},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }, "audio.channels"},
		{"trim batch too large", func(c *Config) { c.Render.TrimBatch = 500 }, "render.trim_batch"},
		{"bad retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }, "event_store.retention_mode"},
		{"bad notifications", func(c *Config) { c.Notifications.Mode = "email" }, "notifications.mode"},
		{"zero stop timeout", func(c *Config) { c.Session.StopTimeoutMS = 0 }, "session.stop_timeout_ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	write := func(target string) {
		t.Helper()
		data := "session:\n  target_language: \"" + target + "\"\naudio:\n  backend: silence\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("Korean")
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(path, initial, logger)
	var seen []string
	m.OnReload(func(c Config) { seen = append(seen, c.Session.TargetLanguage) })

	write("Japanese")
	m.Reload()
	if got := m.Config().Session.TargetLanguage; got != "Japanese" {
		t.Fatalf("expected reloaded target, got %q", got)
	}

	if err := os.WriteFile(path, []byte("audio:\n  backend: tape\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m.Reload()
	if got := m.Config().Session.TargetLanguage; got != "Japanese" {
		t.Fatalf("invalid reload should keep previous config, got %q", got)
	}
	if len(seen) != 1 || seen[0] != "Japanese" {
		t.Fatalf("unexpected reload callbacks: %v", seen)
	}
}
