// Package providers supplies market data to the advisor: candles,
// fundamentals and news sentiment.
package providers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"broker-assistant/internal/models"
	"broker-assistant/internal/resilience"
	"broker-assistant/pkg/utils"
)

// PriceProvider returns the most recent candles for a symbol, oldest first.
type PriceProvider interface {
	Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error)
}

// FundamentalsProvider returns valuation metrics for a symbol.
type FundamentalsProvider interface {
	Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error)
}

// SentimentProvider returns the aggregate news sentiment over a window.
type SentimentProvider interface {
	Sentiment(ctx context.Context, symbol string, window time.Duration) (*models.Sentiment, error)
}

// Provider is a source for all three kinds of market data.
type Provider interface {
	PriceProvider
	FundamentalsProvider
	SentimentProvider
}

// Source names.
const (
	SourceStatic = "static"
	SourceHTTP   = "http"
)

// Config selects and tunes the market data source.
type Config struct {
	Source      string        `mapstructure:"source" default:"static" validate:"oneof=static http"`
	FixturePath string        `mapstructure:"fixture_path"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" default:"10s"`

	Lookback        int           `mapstructure:"lookback" default:"200" validate:"min=30"`
	SentimentWindow time.Duration `mapstructure:"sentiment_window" default:"72h"`

	Breaker resilience.BreakerConfig `mapstructure:"breaker"`
	Retry   utils.RetryConfig        `mapstructure:"retry"`
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() Config {
	return Config{
		Source:          SourceStatic,
		Timeout:         10 * time.Second,
		Lookback:        200,
		SentimentWindow: 72 * time.Hour,
		Breaker:         resilience.DefaultBreakerConfig(),
		Retry:           utils.DefaultRetryConfig(),
	}
}

// symbolPattern admits exchange tickers such as BRK.B or M&M.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9&._-]{1,20}$`)

// ValidSymbol reports whether a normalized symbol has a ticker's shape.
func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func clampScore(s float64) float64 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}

// Open creates the raw provider selected by cfg. A static source without a
// fixture path starts empty.
func Open(cfg Config) (Provider, error) {
	switch cfg.Source {
	case SourceHTTP:
		return NewHTTPProvider(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	default:
		if cfg.FixturePath == "" {
			return NewStaticProvider(), nil
		}
		return LoadStaticProvider(cfg.FixturePath)
	}
}
