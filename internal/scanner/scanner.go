// Package scanner runs predictions for many symbols concurrently.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"broker-assistant/internal/logging"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/providers"
)

// DefaultMaxConcurrent caps the number of symbols in flight.
const DefaultMaxConcurrent = 500

// Config bounds a scan.
type Config struct {
	MaxConcurrent int `mapstructure:"max_concurrent" default:"500" validate:"min=1,max=500"`
}

// PredictFunc produces and records the prediction for one symbol.
type PredictFunc func(ctx context.Context, symbol string) (*models.Prediction, error)

// Result is the outcome for one symbol. Exactly one of Prediction and Err is set.
type Result struct {
	Symbol     string             `json:"symbol"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// Scanner fans predictions out over a bounded pool. One symbol's failure
// never affects the others.
type Scanner struct {
	predict       PredictFunc
	maxConcurrent int
	metrics       *metrics.Recorder
	logger        zerolog.Logger
}

// New creates a scanner.
func New(predict PredictFunc, cfg Config, m *metrics.Recorder, logger zerolog.Logger) *Scanner {
	if cfg.MaxConcurrent <= 0 || cfg.MaxConcurrent > DefaultMaxConcurrent {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Scanner{
		predict:       predict,
		maxConcurrent: cfg.MaxConcurrent,
		metrics:       m,
		logger:        logger.With().Str("component", "scanner").Logger(),
	}
}

// Scan predicts every distinct symbol and returns one result per symbol,
// sorted by symbol. Symbols not started before ctx is done report the
// context error; predictions already recorded stay recorded.
func (s *Scanner) Scan(ctx context.Context, symbols []string) []Result {
	start := time.Now()
	unique := dedupe(symbols)

	p := pool.NewWithResults[Result]().WithMaxGoroutines(s.maxConcurrent)
	for _, sym := range unique {
		p.Go(func() Result {
			return s.scanOne(ctx, sym)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.metrics.RecordScan(len(results)-failed, failed)
	s.metrics.ObserveDuration("scan", start)
	logging.LogScan(s.logger, len(results), failed, time.Since(start))
	return results
}

func (s *Scanner) scanOne(ctx context.Context, symbol string) (res Result) {
	res.Symbol = symbol
	defer func() {
		if r := recover(); r != nil {
			res.Prediction = nil
			res.Err = fmt.Errorf("scan %s panicked: %v", symbol, r)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	p, err := s.predict(ctx, symbol)
	if err != nil {
		s.logger.Debug().Err(err).Str("symbol", symbol).Msg("Symbol scan failed")
		res.Err = err
		return res
	}
	res.Prediction = p
	return res
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := providers.NormalizeSymbol(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
