// Package ledger records predictions and tracks their execution and
// verification. Entries are append-only: after creation only the execution
// and outcome fields change, each exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/events"
	"broker-assistant/internal/logging"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/store"
)

// DefaultNoiseThreshold is the relative price change below which a move is
// treated as flat when verifying.
const DefaultNoiseThreshold = 0.01

// maxUpdateAttempts bounds the optimistic retry loop of a single mutation.
const maxUpdateAttempts = 5

// Config controls verification and history defaults.
type Config struct {
	NoiseThreshold float64 `mapstructure:"noise_threshold" default:"0.01" validate:"gt=0,lt=1"`
	HistoryLimit   int     `mapstructure:"history_limit" default:"50" validate:"min=1"`
}

// DefaultConfig returns the standard ledger settings.
func DefaultConfig() Config {
	return Config{
		NoiseThreshold: DefaultNoiseThreshold,
		HistoryLimit:   50,
	}
}

// Filter selects predictions for accuracy reports and history.
type Filter struct {
	Symbol     string
	From       time.Time
	To         time.Time
	SignalType models.SignalType
	Limit      int
}

// PriceLookup returns the latest price of a symbol.
type PriceLookup func(ctx context.Context, symbol string) (float64, error)

// VerifyResult is the outcome of verifying one expired prediction.
type VerifyResult struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// Ledger is safe for concurrent use. Mutations of one prediction are
// serialized through store versions, different predictions never contend.
type Ledger struct {
	store     store.PredictionStore
	publisher events.Publisher
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	cfg       Config
	now       func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a ledger over the given store.
func New(s store.PredictionStore, cfg Config, logger zerolog.Logger, opts ...Option) *Ledger {
	if cfg.NoiseThreshold <= 0 {
		cfg.NoiseThreshold = DefaultNoiseThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	l := &Ledger{
		store:     s,
		publisher: events.Nop{},
		cfg:       cfg,
		logger:    logger.With().Str("component", "ledger").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record validates and stores a copy of a new prediction and returns the
// copy with its assigned identity. The caller's value is left untouched.
func (l *Ledger) Record(ctx context.Context, in *models.Prediction) (*models.Prediction, error) {
	if err := validateNew(in); err != nil {
		return nil, err
	}

	p := in.Clone()
	now := l.now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	if p.TimeHorizon == "" {
		p.TimeHorizon = models.HorizonMedium
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = now.Add(p.TimeHorizon.Duration())
	}
	p.Outcome = models.OutcomePending
	p.Executed = false
	p.ExecutedAt = nil
	p.RealizedPrice = nil
	p.VerifiedAt = nil
	p.Version = 1

	if err := l.store.Create(ctx, p); err != nil {
		return nil, apperrors.NewUpstreamError(apperrors.CollaboratorStorage, p.Symbol, err)
	}

	l.metrics.RecordPrediction(string(p.SignalType))
	logging.LogPrediction(l.logger, p)
	l.publish(ctx, events.PredictionRecorded, p)
	return p, nil
}

func validateNew(p *models.Prediction) error {
	switch {
	case p == nil:
		return apperrors.NewValidationError("prediction", nil, "is required")
	case strings.TrimSpace(p.Symbol) == "":
		return apperrors.NewValidationError("symbol", p.Symbol, "is required")
	case !p.SignalType.Valid():
		return apperrors.NewValidationError("signal_type", p.SignalType, "must be BUY, SELL or HOLD")
	case len(p.Factors) == 0:
		return apperrors.NewValidationError("contributing_factors", len(p.Factors), "at least one factor is required")
	case math.IsNaN(p.ConfidenceScore) || p.ConfidenceScore < 0 || p.ConfidenceScore > 1:
		return apperrors.NewValidationError("confidence_score", p.ConfidenceScore, "must be within [0, 1]")
	case !(p.PriceAtPrediction > 0):
		return apperrors.NewValidationError("price_at_prediction", p.PriceAtPrediction, "must be positive")
	}
	return nil
}

// Get returns a prediction by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Prediction, error) {
	p, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	return p, nil
}

// MarkExecuted records that the recommendation was acted on.
func (l *Ledger) MarkExecuted(ctx context.Context, id string) (*models.Prediction, error) {
	p, err := l.mutate(ctx, id, func(p *models.Prediction) error {
		if p.Executed {
			return fmt.Errorf("prediction %s: %w", id, apperrors.ErrAlreadyExecuted)
		}
		now := l.now().UTC()
		p.Executed = true
		p.ExecutedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RecordExecution()
	logger := logging.WithPredictionID(l.logger, id)
	logger.Info().Str("symbol", p.Symbol).Msg("Prediction marked executed")
	l.publish(ctx, events.PredictionExecuted, p)
	return p, nil
}

// Verify compares the realized price with the price at prediction time and
// records the outcome. A zero asOf means now.
func (l *Ledger) Verify(ctx context.Context, id string, realizedPrice float64, asOf time.Time) (*models.Prediction, error) {
	if math.IsNaN(realizedPrice) || math.IsInf(realizedPrice, 0) || realizedPrice <= 0 {
		return nil, apperrors.NewValidationError("realized_price", realizedPrice, "must be a positive number")
	}
	if asOf.IsZero() {
		asOf = l.now()
	}
	asOf = asOf.UTC()

	p, err := l.mutate(ctx, id, func(p *models.Prediction) error {
		if p.IsVerified() {
			return fmt.Errorf("prediction %s: %w", id, apperrors.ErrAlreadyVerified)
		}
		if asOf.Before(p.CreatedAt) {
			return apperrors.NewValidationError("as_of", asOf, "must not precede the prediction")
		}
		price := realizedPrice
		p.Outcome = l.Evaluate(p, price)
		p.RealizedPrice = &price
		p.VerifiedAt = &asOf
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RecordVerification(string(p.SignalType), string(p.Outcome))
	logging.LogVerification(l.logger, p)
	l.publish(ctx, events.PredictionVerified, p)
	return p, nil
}

// Evaluate decides the outcome of p for a realized price. BUY is correct
// on a rise beyond the noise threshold, SELL on a fall beyond it, HOLD when
// the move stays within it.
func (l *Ledger) Evaluate(p *models.Prediction, realizedPrice float64) models.Outcome {
	change := (realizedPrice - p.PriceAtPrediction) / p.PriceAtPrediction
	var correct bool
	switch p.SignalType {
	case models.SignalBuy:
		correct = change > l.cfg.NoiseThreshold
	case models.SignalSell:
		correct = change < -l.cfg.NoiseThreshold
	case models.SignalHold:
		correct = math.Abs(change) <= l.cfg.NoiseThreshold
	}
	if correct {
		return models.OutcomeCorrect
	}
	return models.OutcomeIncorrect
}

// mutate applies change to a fresh copy of the prediction and writes it
// back with a version check. On a conflict it re-reads and re-applies, so
// a losing concurrent caller sees the state the winner left behind.
func (l *Ledger) mutate(ctx context.Context, id string, change func(p *models.Prediction) error) (*models.Prediction, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		p, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, storageError(err)
		}
		if err := change(p); err != nil {
			return nil, err
		}

		err = l.store.Update(ctx, p, p.Version)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, apperrors.ErrVersionConflict):
			l.logger.Debug().Str("prediction_id", id).Int("attempt", attempt+1).Msg("Version conflict, retrying")
			continue
		default:
			return nil, storageError(err)
		}
	}
	return nil, fmt.Errorf("prediction %s: %w", id, apperrors.ErrVersionConflict)
}

// Accuracy summarizes verified predictions matching the filter. Pending
// predictions are counted separately and never affect the rate.
func (l *Ledger) Accuracy(ctx context.Context, f Filter) (*models.AccuracyStats, error) {
	preds, err := l.store.Query(ctx, store.PredictionFilter{
		Symbol:     f.Symbol,
		From:       f.From,
		To:         f.To,
		SignalType: f.SignalType,
	})
	if err != nil {
		return nil, storageError(err)
	}

	stats := &models.AccuracyStats{BySignal: make(map[models.SignalType]*models.SignalAccuracy)}
	for _, p := range preds {
		if !p.IsVerified() {
			stats.Pending++
			continue
		}
		bucket, ok := stats.BySignal[p.SignalType]
		if !ok {
			bucket = &models.SignalAccuracy{}
			stats.BySignal[p.SignalType] = bucket
		}
		stats.Total++
		bucket.Total++
		if p.Outcome == models.OutcomeCorrect {
			stats.Correct++
			bucket.Correct++
		} else {
			stats.Incorrect++
		}
	}

	if stats.Total > 0 {
		stats.AccuracyRate = float64(stats.Correct) / float64(stats.Total)
	}
	rates := make(map[string]float64, len(stats.BySignal))
	for signal, bucket := range stats.BySignal {
		bucket.AccuracyRate = float64(bucket.Correct) / float64(bucket.Total)
		rates[string(signal)] = bucket.AccuracyRate
	}
	// gauges describe the whole ledger, never a filtered slice of it
	if f.unfiltered() {
		l.metrics.RecordAccuracy(stats.AccuracyRate, rates)
	}
	return stats, nil
}

func (f Filter) unfiltered() bool {
	return f.Symbol == "" && f.SignalType == "" && f.From.IsZero() && f.To.IsZero()
}

// History returns predictions matching the filter, newest first.
func (l *Ledger) History(ctx context.Context, f Filter) ([]*models.Prediction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = l.cfg.HistoryLimit
	}
	preds, err := l.store.Query(ctx, store.PredictionFilter{
		Symbol:     f.Symbol,
		From:       f.From,
		To:         f.To,
		SignalType: f.SignalType,
		Limit:      limit,
	})
	if err != nil {
		return nil, storageError(err)
	}
	return preds, nil
}

// VerifyExpired verifies every pending prediction whose horizon has passed,
// using the latest price for its symbol. Failures are reported per
// prediction and do not stop the batch.
func (l *Ledger) VerifyExpired(ctx context.Context, latest PriceLookup) ([]VerifyResult, error) {
	now := l.now().UTC()
	due, err := l.store.Query(ctx, store.PredictionFilter{
		Outcome:       models.OutcomePending,
		ExpiresBefore: now,
	})
	if err != nil {
		return nil, storageError(err)
	}

	prices := make(map[string]float64)
	results := make([]VerifyResult, 0, len(due))
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			results = append(results, failed(p, err))
			continue
		}

		price, ok := prices[p.Symbol]
		if !ok {
			price, err = latest(ctx, p.Symbol)
			if err != nil {
				results = append(results, failed(p, err))
				continue
			}
			prices[p.Symbol] = price
		}

		verified, err := l.Verify(ctx, p.ID, price, now)
		if err != nil {
			results = append(results, failed(p, err))
			continue
		}
		results = append(results, VerifyResult{ID: p.ID, Symbol: p.Symbol, Prediction: verified})
	}

	l.logger.Info().Int("due", len(due)).Msg("Expired predictions verified")
	return results, nil
}

func failed(p *models.Prediction, err error) VerifyResult {
	return VerifyResult{ID: p.ID, Symbol: p.Symbol, Err: err, Error: err.Error()}
}

func (l *Ledger) publish(ctx context.Context, t events.EventType, p *models.Prediction) {
	if err := l.publisher.Publish(ctx, events.NewEvent(t, p, l.now())); err != nil {
		l.logger.Warn().Err(err).Str("event", string(t)).Str("prediction_id", p.ID).Msg("Failed to publish event")
	}
}

// storageError keeps domain errors intact and reports anything else as an
// unavailable store.
func storageError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrVersionConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return apperrors.NewUpstreamError(apperrors.CollaboratorStorage, "", err)
}
