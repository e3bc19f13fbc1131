// Package advisor is the entry point for callers: it fetches market data,
// evaluates it, aggregates a prediction and keeps the prediction ledger.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"broker-assistant/internal/analysis/fundamentals"
	"broker-assistant/internal/analysis/indicators"
	"broker-assistant/internal/analysis/patterns"
	"broker-assistant/internal/analysis/scoring"
	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/logging"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/providers"
	"broker-assistant/internal/scanner"
)

// Evaluation is the technical view of one symbol.
type Evaluation struct {
	Symbol     string                    `json:"symbol"`
	LastClose  float64                   `json:"last_close"`
	Candles    int                       `json:"candles"`
	Indicators []models.IndicatorReading `json:"indicators"`
	Missing    []string                  `json:"missing_indicators,omitempty"`
	Patterns   []models.PatternMatch     `json:"patterns"`
}

// Components are the collaborators of a Service.
type Components struct {
	Provider   providers.Provider
	Evaluator  *indicators.Evaluator
	Detector   *patterns.Detector
	Thresholds fundamentals.Thresholds
	Aggregator *scoring.Aggregator
	Ledger     *ledger.Ledger
	Metrics    *metrics.Recorder
}

// Service is safe for concurrent use.
type Service struct {
	provider   providers.Provider
	evaluator  *indicators.Evaluator
	detector   *patterns.Detector
	thresholds fundamentals.Thresholds
	aggregator *scoring.Aggregator
	ledger     *ledger.Ledger
	scanner    *scanner.Scanner
	metrics    *metrics.Recorder
	logger     zerolog.Logger

	lookback        int
	sentimentWindow time.Duration
}

// Settings bound how much data a prediction looks at.
type Settings struct {
	Lookback        int
	SentimentWindow time.Duration
	Scan            scanner.Config
}

// NewService creates a service.
func NewService(c Components, s Settings, logger zerolog.Logger) *Service {
	if s.Lookback <= 0 {
		s.Lookback = 200
	}
	if s.SentimentWindow <= 0 {
		s.SentimentWindow = 72 * time.Hour
	}
	svc := &Service{
		provider:        c.Provider,
		evaluator:       c.Evaluator,
		detector:        c.Detector,
		thresholds:      c.Thresholds,
		aggregator:      c.Aggregator,
		ledger:          c.Ledger,
		metrics:         c.Metrics,
		logger:          logger.With().Str("component", "advisor").Logger(),
		lookback:        s.Lookback,
		sentimentWindow: s.SentimentWindow,
	}
	svc.scanner = scanner.New(svc.Predict, s.Scan, c.Metrics, logger)
	return svc
}

// Evaluate fetches candles and returns indicator readings and patterns.
func (s *Service) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	candles, err := s.provider.Candles(ctx, symbol, s.lookback)
	if err != nil {
		return nil, err
	}
	return s.EvaluateSeries(ctx, symbol, candles)
}

// EvaluateSeries evaluates a caller-supplied series. Indicators without
// enough history are listed as missing rather than failing.
func (s *Service) EvaluateSeries(ctx context.Context, symbol string, candles []models.Candle) (*Evaluation, error) {
	eval, err := s.evaluator.Evaluate(ctx, candles)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", symbol, err)
	}
	return &Evaluation{
		Symbol:     symbol,
		LastClose:  eval.LastClose,
		Candles:    len(candles),
		Indicators: eval.Readings,
		Missing:    eval.Missing,
		Patterns:   s.detector.Detect(candles),
	}, nil
}

// ScreenFundamentals fetches and screens a symbol's fundamentals.
func (s *Service) ScreenFundamentals(ctx context.Context, symbol string) ([]models.FundamentalFlag, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	f, err := s.provider.Fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return s.ScreenMetrics(*f), nil
}

// ScreenMetrics screens caller-supplied fundamentals.
func (s *Service) ScreenMetrics(f models.Fundamentals) []models.FundamentalFlag {
	return fundamentals.Screen(f, s.thresholds)
}

// Predict fetches everything known about a symbol, aggregates a prediction
// and records it. Fundamentals or sentiment that do not exist reduce the
// evidence; any other provider failure is returned and nothing is recorded.
func (s *Service) Predict(ctx context.Context, symbol string) (*models.Prediction, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	logger := logging.WithSymbol(s.logger, symbol)

	var (
		candles   []models.Candle
		fund      *models.Fundamentals
		sentiment *models.Sentiment
		priceErr  error
		fundErr   error
		sentErr   error
	)
	var wg conc.WaitGroup
	wg.Go(func() { candles, priceErr = s.provider.Candles(ctx, symbol, s.lookback) })
	wg.Go(func() { fund, fundErr = s.provider.Fundamentals(ctx, symbol) })
	wg.Go(func() { sentiment, sentErr = s.provider.Sentiment(ctx, symbol, s.sentimentWindow) })
	wg.Wait()

	if priceErr != nil {
		return nil, upstream(apperrors.CollaboratorPrice, symbol, priceErr)
	}
	if err := optionalInput(logger, apperrors.CollaboratorFundamentals, symbol, fundErr); err != nil {
		return nil, err
	}
	if err := optionalInput(logger, apperrors.CollaboratorSentiment, symbol, sentErr); err != nil {
		return nil, err
	}

	return s.PredictFrom(ctx, symbol, candles, fund, sentiment)
}

// PredictFrom aggregates a prediction from caller-supplied inputs and
// records it. fund and sentiment may be nil.
func (s *Service) PredictFrom(ctx context.Context, symbol string, candles []models.Candle, fund *models.Fundamentals, sentiment *models.Sentiment) (*models.Prediction, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("predict", start)

	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: no candles: %w", symbol, apperrors.ErrInsufficientData)
	}

	eval, err := s.EvaluateSeries(ctx, symbol, candles)
	if err != nil {
		return nil, err
	}
	in := scoring.Input{
		Symbol:    symbol,
		LastClose: eval.LastClose,
		Readings:  eval.Indicators,
		Patterns:  eval.Patterns,
		Sentiment: sentiment,
	}
	if fund != nil {
		in.Flags = s.ScreenMetrics(*fund)
	}

	p, err := s.aggregator.Aggregate(in)
	if err != nil {
		return nil, err
	}
	return s.ledger.Record(ctx, p)
}

// RecordExecution marks a prediction as acted upon.
func (s *Service) RecordExecution(ctx context.Context, id string) (*models.Prediction, error) {
	return s.ledger.MarkExecuted(ctx, id)
}

// VerifyPrediction records the realized price of a prediction. A zero asOf
// means now.
func (s *Service) VerifyPrediction(ctx context.Context, id string, realizedPrice float64, asOf time.Time) (*models.Prediction, error) {
	return s.ledger.Verify(ctx, id, realizedPrice, asOf)
}

// VerifyExpired verifies every pending prediction past its horizon at the
// latest close.
func (s *Service) VerifyExpired(ctx context.Context) ([]ledger.VerifyResult, error) {
	return s.ledger.VerifyExpired(ctx, s.latestClose)
}

// AccuracyReport summarizes verified predictions.
func (s *Service) AccuracyReport(ctx context.Context, f ledger.Filter) (*models.AccuracyStats, error) {
	return s.ledger.Accuracy(ctx, f)
}

// History lists predictions, newest first.
func (s *Service) History(ctx context.Context, f ledger.Filter) ([]*models.Prediction, error) {
	return s.ledger.History(ctx, f)
}

// Get returns one prediction.
func (s *Service) Get(ctx context.Context, id string) (*models.Prediction, error) {
	return s.ledger.Get(ctx, id)
}

// Scan predicts many symbols concurrently.
func (s *Service) Scan(ctx context.Context, symbols []string) []scanner.Result {
	return s.scanner.Scan(ctx, symbols)
}

func (s *Service) latestClose(ctx context.Context, symbol string) (float64, error) {
	candles, err := s.provider.Candles(ctx, symbol, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, apperrors.NewUpstreamError(apperrors.CollaboratorPrice, symbol, apperrors.ErrInsufficientData)
	}
	return candles[len(candles)-1].Close, nil
}

// optionalInput treats data that does not exist as no opinion. Any other
// failure is returned as an UpstreamError naming the collaborator.
func optionalInput(logger zerolog.Logger, collaborator, symbol string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		logger.Debug().Err(err).Str("collaborator", collaborator).Msg("Continuing without input")
		return nil
	}
	return upstream(collaborator, symbol, err)
}

func upstream(collaborator, symbol string, err error) error {
	var up *apperrors.UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return apperrors.NewUpstreamError(collaborator, symbol, err)
}

func checkSymbol(symbol string) (string, error) {
	sym := providers.NormalizeSymbol(symbol)
	if sym == "" {
		return "", apperrors.NewValidationError("symbol", symbol, "must not be empty")
	}
	if !providers.ValidSymbol(sym) {
		return "", apperrors.NewValidationError("symbol", symbol, "must be up to 20 letters, digits or & . _ -")
	}
	return sym, nil
}
