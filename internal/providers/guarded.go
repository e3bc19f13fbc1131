package providers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/resilience"
	"broker-assistant/pkg/utils"
)

// Guarded protects a provider with one circuit breaker per collaborator and
// retries with backoff. Every failure it returns is an UpstreamError naming
// the collaborator and symbol.
type Guarded struct {
	inner    Provider
	breakers *resilience.Registry
	retry    utils.RetryConfig
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// NewGuarded wraps inner. A nil registry gets a default one.
func NewGuarded(inner Provider, breakers *resilience.Registry, retry utils.RetryConfig, m *metrics.Recorder, logger zerolog.Logger) *Guarded {
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig(), IsNotFound)
	}
	retry.Retryable = retryable
	return &Guarded{
		inner:    inner,
		breakers: breakers,
		retry:    retry,
		metrics:  m,
		logger:   logger.With().Str("component", "providers").Logger(),
	}
}

// IsNotFound reports whether err means the data does not exist. Such
// answers neither trip breakers nor get retried.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func retryable(err error) bool {
	return !IsNotFound(err) &&
		!errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Breakers exposes the breaker registry for health reporting.
func (g *Guarded) Breakers() *resilience.Registry {
	return g.breakers
}

func (g *Guarded) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	return guard(ctx, g, apperrors.CollaboratorPrice, symbol, func(ctx context.Context) ([]models.Candle, error) {
		return g.inner.Candles(ctx, symbol, lookback)
	})
}

func (g *Guarded) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	return guard(ctx, g, apperrors.CollaboratorFundamentals, symbol, func(ctx context.Context) (*models.Fundamentals, error) {
		return g.inner.Fundamentals(ctx, symbol)
	})
}

func (g *Guarded) Sentiment(ctx context.Context, symbol string, window time.Duration) (*models.Sentiment, error) {
	return guard(ctx, g, apperrors.CollaboratorSentiment, symbol, func(ctx context.Context) (*models.Sentiment, error) {
		return g.inner.Sentiment(ctx, symbol, window)
	})
}

func guard[T any](ctx context.Context, g *Guarded, collaborator, symbol string, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := g.breakers.Get(collaborator)
	v, err := utils.RetryWithResult(ctx, g.retry, func(ctx context.Context) (T, error) {
		return resilience.Execute(ctx, cb, fn)
	})
	g.metrics.RecordProviderCall(collaborator, err)
	if err != nil {
		var zero T
		if !IsNotFound(err) {
			g.logger.Warn().Err(err).
				Str("collaborator", collaborator).
				Str("symbol", symbol).
				Str("breaker", string(cb.State())).
				Msg("Upstream call failed")
		}
		return zero, apperrors.NewUpstreamError(collaborator, symbol, err)
	}
	return v, nil
}
