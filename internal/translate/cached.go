package translate

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-live/internal/cache"
)

type cachedClient struct {
	next  Client
	cache *cache.Cache
	scope string
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedClient consults c before next. scope separates entries written
// by different backends or models.
func NewCachedClient(next Client, c *cache.Cache, scope string, ttl time.Duration, logger *slog.Logger) Client {
	return &cachedClient{
		next:  next,
		cache: c,
		scope: scope,
		ttl:   ttl,
		log:   logger.With(slog.String("component", "translation-cache")),
	}
}

func (c *cachedClient) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	key := cache.GenerateKey(c.scope, sourceCode, targetCode, text)
	if entry, ok := c.cache.Get(key); ok {
		return entry.Text, nil
	}
	translated, err := c.next.Translate(ctx, text, sourceCode, targetCode)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(key, &cache.Entry{Text: translated, CreatedAt: time.Now()}, c.ttl); err != nil {
		c.log.Debug("failed to cache translation", slogError(err))
	}
	return translated, nil
}
