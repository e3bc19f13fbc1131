package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"broker-assistant/internal/cache"
	"broker-assistant/internal/models"
)

// Cached serves fundamentals and sentiment from a TTL cache. Candles always
// go to the inner provider. Cache failures are logged and bypassed.
type Cached struct {
	inner           Provider
	cache           cache.Cache
	fundamentalsTTL time.Duration
	sentimentTTL    time.Duration
	logger          zerolog.Logger
}

// NewCached wraps inner with c. A nil cache returns inner unchanged.
func NewCached(inner Provider, c cache.Cache, cfg cache.Config, logger zerolog.Logger) Provider {
	if c == nil {
		return inner
	}
	return &Cached{
		inner:           inner,
		cache:           c,
		fundamentalsTTL: cfg.FundamentalsTTL,
		sentimentTTL:    cfg.SentimentTTL,
		logger:          logger.With().Str("component", "provider_cache").Logger(),
	}
}

func (c *Cached) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	return c.inner.Candles(ctx, symbol, lookback)
}

func (c *Cached) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	key := "fundamentals:" + NormalizeSymbol(symbol)
	return cached(ctx, c, key, c.fundamentalsTTL, func() (*models.Fundamentals, error) {
		return c.inner.Fundamentals(ctx, symbol)
	})
}

func (c *Cached) Sentiment(ctx context.Context, symbol string, window time.Duration) (*models.Sentiment, error) {
	key := fmt.Sprintf("sentiment:%s:%d", NormalizeSymbol(symbol), int(window.Hours()))
	return cached(ctx, c, key, c.sentimentTTL, func() (*models.Sentiment, error) {
		return c.inner.Sentiment(ctx, symbol, window)
	})
}

func cached[T any](ctx context.Context, c *Cached, key string, ttl time.Duration, load func() (*T, error)) (*T, error) {
	if data, ok, err := c.cache.GetBytes(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		c.logger.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.cache.SetBytes(ctx, key, data, ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
	}
	return v, nil
}
