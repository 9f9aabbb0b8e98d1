package translate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-live/internal/cache"
	"github.com/loqalabs/loqa-live/internal/config"
)

// New builds the backend selected by cfg.Mode, wrapped in the translation
// cache for remote modes. The returned close function releases the cache.
func New(cfg config.TranslationConfig, logger *slog.Logger) (Client, func() error, error) {
	noop := func() error { return nil }

	var (
		client Client
		err    error
	)
	switch cfg.Mode {
	case "", "mock":
		return NewMockClient(), noop, nil
	case "ollama":
		client = NewOllamaClient(cfg.Endpoint, cfg.Model, cfg.Temperature)
	case "openai":
		client, err = NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown translation mode %q", cfg.Mode)
	}

	if cfg.CacheTTLMinutes <= 0 {
		return client, noop, nil
	}
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("translation cache enabled",
		slog.String("path", cfg.CachePath),
		slog.Int("ttl_minutes", cfg.CacheTTLMinutes))
	scope := cfg.Mode + ":" + cfg.Model
	return NewCachedClient(client, store, scope, time.Duration(cfg.CacheTTLMinutes)*time.Minute, logger), store.Close, nil
}
