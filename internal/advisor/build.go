package advisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"broker-assistant/internal/analysis/fundamentals"
	"broker-assistant/internal/analysis/indicators"
	"broker-assistant/internal/analysis/patterns"
	"broker-assistant/internal/analysis/scoring"
	"broker-assistant/internal/cache"
	"broker-assistant/internal/events"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/providers"
	"broker-assistant/internal/resilience"
	"broker-assistant/internal/scanner"
	"broker-assistant/internal/store"
)

// Config holds the configuration of every component the service needs.
type Config struct {
	Indicators   indicators.EvaluatorConfig
	Patterns     patterns.Config
	Fundamentals fundamentals.Thresholds
	Weights      scoring.WeightTable
	Aggregator   scoring.Config
	Ledger       ledger.Config
	Scan         scanner.Config
	Store        store.Config
	Cache        cache.Config
	Events       events.Config
	Providers    providers.Config
}

// App is a fully wired service plus the resources it owns.
type App struct {
	Service  *Service
	Metrics  *metrics.Recorder
	Breakers *resilience.Registry

	store     store.PredictionStore
	publisher events.Publisher
	cache     cache.Cache
}

// Build opens storage, the event publisher, the cache and the market data
// source, and wires them into a Service.
func Build(ctx context.Context, cfg Config, logger zerolog.Logger) (_ *App, err error) {
	app := &App{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if app.store, err = store.Open(cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if app.publisher, err = events.Open(cfg.Events); err != nil {
		return nil, fmt.Errorf("failed to open event publisher: %w", err)
	}
	if app.cache, err = cache.New(ctx, cfg.Cache); err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	raw, err := providers.Open(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to open market data provider: %w", err)
	}
	app.Breakers = resilience.NewRegistry(cfg.Providers.Breaker, providers.IsNotFound)
	guarded := providers.NewGuarded(raw, app.Breakers, cfg.Providers.Retry, app.Metrics, logger)
	provider := providers.NewCached(guarded, app.cache, cfg.Cache, logger)

	led := ledger.New(app.store, cfg.Ledger, logger,
		ledger.WithPublisher(app.publisher),
		ledger.WithMetrics(app.Metrics),
	)

	app.Service = NewService(Components{
		Provider:   provider,
		Evaluator:  indicators.NewEvaluator(cfg.Indicators),
		Detector:   patterns.NewDetector(cfg.Patterns, logger),
		Thresholds: cfg.Fundamentals,
		Aggregator: scoring.NewAggregator(cfg.Weights, cfg.Aggregator),
		Ledger:     led,
		Metrics:    app.Metrics,
	}, Settings{
		Lookback:        cfg.Providers.Lookback,
		SentimentWindow: cfg.Providers.SentimentWindow,
		Scan:            cfg.Scan,
	}, logger)
	return app, nil
}

// Close releases everything Build opened.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
