package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	EventStore    EventStoreConfig    `yaml:"event_store"`
	Audio         AudioConfig         `yaml:"audio"`
	STT           STTConfig           `yaml:"stt"`
	Translation   TranslationConfig   `yaml:"translation"`
	Render        RenderConfig        `yaml:"render"`
	Transcripts   TranscriptsConfig   `yaml:"transcripts"`
	Session       SessionConfig       `yaml:"session"`
	Control       ControlConfig       `yaml:"control"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AudioConfig struct {
	Backend    string `yaml:"backend"` // portaudio, wav, silence
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	ChunkMS    int    `yaml:"chunk_ms"`
	QueueSize  int    `yaml:"queue_size"`
	WavPath    string `yaml:"wav_path"`
	Loop       bool   `yaml:"loop"`
}

type STTConfig struct {
	Mode                 string `yaml:"mode"` // mock, exec, aws
	Command              string `yaml:"command"`
	ModelPath            string `yaml:"model_path"`
	Region               string `yaml:"region"`
	InterimResults       bool   `yaml:"interim_results"`
	AutomaticPunctuation bool   `yaml:"automatic_punctuation"`
	PartialEveryMS       int    `yaml:"partial_every_ms"`
	UtteranceMS          int    `yaml:"utterance_ms"`
	SessionLimitMS       int    `yaml:"session_limit_ms"`
}

type TranslationConfig struct {
	Mode            string  `yaml:"mode"` // mock, ollama, openai
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	Temperature     float64 `yaml:"temperature"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	CachePath       string  `yaml:"cache_path"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes"`
}

type RenderConfig struct {
	MaxSegments int  `yaml:"max_segments"`
	TrimBatch   int  `yaml:"trim_batch"`
	Overlay     bool `yaml:"overlay"`
	Color       bool `yaml:"color"`
}

type TranscriptsConfig struct {
	Directory        string `yaml:"directory"`
	OriginalPrefix   string `yaml:"original_prefix"`
	TranslatedPrefix string `yaml:"translated_prefix"`
}

type SessionConfig struct {
	Device         string `yaml:"device"`
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
	Autostart      bool   `yaml:"autostart"`
	StopTimeoutMS  int    `yaml:"stop_timeout_ms"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Socket  string `yaml:"socket"`
}

type NotificationsConfig struct {
	Mode    string `yaml:"mode"` // desktop, log, none
	AppName string `yaml:"app_name"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-live",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-live.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			Backend:    "portaudio",
			SampleRate: 16000,
			Channels:   1,
			ChunkMS:    100,
			QueueSize:  50,
		},
		STT: STTConfig{
			Mode:                 "mock",
			Region:               "us-east-1",
			InterimResults:       true,
			AutomaticPunctuation: true,
			PartialEveryMS:       800,
			UtteranceMS:          4000,
		},
		Translation: TranslationConfig{
			Mode:            "mock",
			Temperature:     0.2,
			TimeoutMS:       5000,
			CacheTTLMinutes: 60,
		},
		Render: RenderConfig{
			MaxSegments: 500,
			TrimBatch:   50,
			Overlay:     true,
			Color:       true,
		},
		Transcripts: TranscriptsConfig{
			Directory:        "results",
			OriginalPrefix:   "original_text",
			TranslatedPrefix: "translated_text",
		},
		Session: SessionConfig{
			SourceLanguage: "English (US)",
			TargetLanguage: "Korean",
			Autostart:      true,
			StopTimeoutMS:  1500,
			PollIntervalMS: 100,
		},
		Control: ControlConfig{
			Enabled: true,
			Socket:  defaultSocketPath(),
		},
		Notifications: NotificationsConfig{
			Mode:    "desktop",
			AppName: "loqa-live",
		},
	}
}

// Load reads the YAML file at path (optional), a .env file next to the
// working directory (optional) and LOQA_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	path := ".env"
	if custom, ok := os.LookupEnv("LOQA_DOTENV"); ok && strings.TrimSpace(custom) != "" {
		path = custom
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Backend, "LOQA_AUDIO_BACKEND")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkMS, "LOQA_AUDIO_CHUNK_MS")
	overrideInt(&cfg.Audio.QueueSize, "LOQA_AUDIO_QUEUE_SIZE")
	overrideString(&cfg.Audio.WavPath, "LOQA_AUDIO_WAV_PATH")
	overrideBool(&cfg.Audio.Loop, "LOQA_AUDIO_LOOP")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Region, "LOQA_STT_REGION")
	overrideBool(&cfg.STT.InterimResults, "LOQA_STT_INTERIM_RESULTS")
	overrideBool(&cfg.STT.AutomaticPunctuation, "LOQA_STT_AUTOMATIC_PUNCTUATION")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_STT_PARTIAL_EVERY_MS")
	overrideInt(&cfg.STT.UtteranceMS, "LOQA_STT_UTTERANCE_MS")
	overrideInt(&cfg.STT.SessionLimitMS, "LOQA_STT_SESSION_LIMIT_MS")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.Endpoint, "LOQA_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideString(&cfg.Translation.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.Translation.APIKey, "LOQA_TRANSLATION_API_KEY")
	overrideFloat(&cfg.Translation.Temperature, "LOQA_TRANSLATION_TEMPERATURE")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
	overrideString(&cfg.Translation.CachePath, "LOQA_TRANSLATION_CACHE_PATH")
	overrideInt(&cfg.Translation.CacheTTLMinutes, "LOQA_TRANSLATION_CACHE_TTL_MINUTES")
	overrideInt(&cfg.Render.MaxSegments, "LOQA_RENDER_MAX_SEGMENTS")
	overrideInt(&cfg.Render.TrimBatch, "LOQA_RENDER_TRIM_BATCH")
	overrideBool(&cfg.Render.Overlay, "LOQA_RENDER_OVERLAY")
	overrideBool(&cfg.Render.Color, "LOQA_RENDER_COLOR")
	overrideString(&cfg.Transcripts.Directory, "LOQA_TRANSCRIPTS_DIRECTORY")
	overrideString(&cfg.Session.Device, "LOQA_SESSION_DEVICE")
	overrideString(&cfg.Session.SourceLanguage, "LOQA_SESSION_SOURCE_LANGUAGE")
	overrideString(&cfg.Session.TargetLanguage, "LOQA_SESSION_TARGET_LANGUAGE")
	overrideBool(&cfg.Session.Autostart, "LOQA_SESSION_AUTOSTART")
	overrideInt(&cfg.Session.StopTimeoutMS, "LOQA_SESSION_STOP_TIMEOUT_MS")
	overrideInt(&cfg.Session.PollIntervalMS, "LOQA_SESSION_POLL_INTERVAL_MS")
	overrideBool(&cfg.Control.Enabled, "LOQA_CONTROL_ENABLED")
	overrideString(&cfg.Control.Socket, "LOQA_CONTROL_SOCKET")
	overrideString(&cfg.Notifications.Mode, "LOQA_NOTIFICATIONS_MODE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Backend {
	case "portaudio", "silence":
	case "wav":
		if cfg.Audio.WavPath == "" {
			return errors.New("audio.wav_path must be set when backend=wav")
		}
	default:
		return errors.New("audio.backend must be one of portaudio|wav|silence")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Audio.ChunkMS <= 0 {
		return errors.New("audio.chunk_ms must be positive")
	}
	if cfg.Audio.QueueSize <= 0 {
		return errors.New("audio.queue_size must be >= 1")
	}
	switch cfg.STT.Mode {
	case "mock", "aws":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|aws")
	}
	switch cfg.Translation.Mode {
	case "mock", "ollama":
	case "openai":
		if cfg.Translation.APIKey == "" {
			return errors.New("translation.api_key must be set when mode=openai")
		}
	default:
		return errors.New("translation.mode must be one of mock|ollama|openai")
	}
	if cfg.Translation.TimeoutMS <= 0 {
		return errors.New("translation.timeout_ms must be positive")
	}
	if cfg.Render.MaxSegments <= 0 {
		return errors.New("render.max_segments must be positive")
	}
	if cfg.Render.TrimBatch <= 0 || cfg.Render.TrimBatch >= cfg.Render.MaxSegments {
		return errors.New("render.trim_batch must be between 1 and max_segments-1")
	}
	if cfg.Transcripts.Directory == "" {
		return errors.New("transcripts.directory must not be empty")
	}
	if cfg.Session.SourceLanguage == "" || cfg.Session.TargetLanguage == "" {
		return errors.New("session.source_language and session.target_language must not be empty")
	}
	if cfg.Session.StopTimeoutMS <= 0 {
		return errors.New("session.stop_timeout_ms must be positive")
	}
	if cfg.Session.PollIntervalMS <= 0 {
		return errors.New("session.poll_interval_ms must be positive")
	}
	if cfg.Control.Enabled && cfg.Control.Socket == "" {
		return errors.New("control.socket must be set when control is enabled")
	}
	switch cfg.Notifications.Mode {
	case "desktop", "log", "none":
	default:
		return errors.New("notifications.mode must be one of desktop|log|none")
	}
	return nil
}
