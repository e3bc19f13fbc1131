package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// StaticProvider serves market data held in memory. It backs offline use
// and tests, and can be loaded from a JSON fixture file.
type StaticProvider struct {
	mu           sync.RWMutex
	candles      map[string][]models.Candle
	fundamentals map[string]models.Fundamentals
	sentiment    map[string]models.Sentiment
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		candles:      make(map[string][]models.Candle),
		fundamentals: make(map[string]models.Fundamentals),
		sentiment:    make(map[string]models.Sentiment),
	}
}

// SetCandles replaces the candle series of a symbol.
func (s *StaticProvider) SetCandles(symbol string, candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[NormalizeSymbol(symbol)] = append([]models.Candle(nil), candles...)
}

// SetFundamentals replaces the fundamentals of a symbol.
func (s *StaticProvider) SetFundamentals(symbol string, f models.Fundamentals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Symbol = NormalizeSymbol(symbol)
	s.fundamentals[f.Symbol] = f
}

// SetSentiment replaces the sentiment of a symbol.
func (s *StaticProvider) SetSentiment(symbol string, sent models.Sentiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent.Symbol = NormalizeSymbol(symbol)
	s.sentiment[sent.Symbol] = sent
}

// Symbols returns every symbol with candle data.
func (s *StaticProvider) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.candles))
	for sym := range s.candles {
		out = append(out, sym)
	}
	return out
}

func (s *StaticProvider) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.candles[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("candles for %s: %w", symbol, apperrors.ErrNotFound)
	}
	if lookback > 0 && len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	return append([]models.Candle(nil), series...), nil
}

func (s *StaticProvider) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fundamentals[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("fundamentals for %s: %w", symbol, apperrors.ErrNotFound)
	}
	return &f, nil
}

// Sentiment ignores the window; fixtures hold one score per symbol.
func (s *StaticProvider) Sentiment(ctx context.Context, symbol string, _ time.Duration) (*models.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sent, ok := s.sentiment[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("sentiment for %s: %w", symbol, apperrors.ErrNotFound)
	}
	sent.Score = clampScore(sent.Score)
	return &sent, nil
}

// fixtureFile is the on-disk layout read by LoadStaticProvider. A symbol's
// candles come either inline or from a CSV file relative to the fixture.
type fixtureFile struct {
	Symbols map[string]struct {
		Candles      []models.Candle      `json:"candles"`
		CandlesCSV   string               `json:"candles_csv"`
		Fundamentals *models.Fundamentals `json:"fundamentals"`
		Sentiment    *models.Sentiment    `json:"sentiment"`
	} `json:"symbols"`
}

// LoadStaticProvider reads a JSON fixture file.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fx fixtureFile
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}

	p := NewStaticProvider()
	for sym, entry := range fx.Symbols {
		candles := entry.Candles
		if entry.CandlesCSV != "" {
			csvPath := entry.CandlesCSV
			if !filepath.IsAbs(csvPath) {
				csvPath = filepath.Join(filepath.Dir(path), csvPath)
			}
			if candles, err = readCandlesFile(csvPath); err != nil {
				return nil, fmt.Errorf("%s: %w", sym, err)
			}
		}
		if len(candles) > 0 {
			p.SetCandles(sym, candles)
		}
		if entry.Fundamentals != nil {
			p.SetFundamentals(sym, *entry.Fundamentals)
		}
		if entry.Sentiment != nil {
			p.SetSentiment(sym, *entry.Sentiment)
		}
	}
	return p, nil
}

func readCandlesFile(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candles: %w", err)
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

// csvCandle is one row of a candle CSV with a header of
// timestamp,open,high,low,close,volume. Timestamps are RFC 3339 or YYYY-MM-DD.
type csvCandle struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

// ReadCandlesCSV parses candles from CSV, oldest row first.
func ReadCandlesCSV(r io.Reader) ([]models.Candle, error) {
	var rows []*csvCandle
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse candles csv: %w", err)
	}
	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}
