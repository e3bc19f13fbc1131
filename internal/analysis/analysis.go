// Package analysis defines the shared contracts of the technical analysis
// packages: indicators, pattern detection and signal scoring.
package analysis

import (
	"broker-assistant/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple values.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// PatternDetector defines the interface for pattern detection.
type PatternDetector interface {
	Name() string
	Detect(candles []models.Candle) ([]Pattern, error)
}

// Pattern represents a detected chart or candlestick pattern.
type Pattern struct {
	Name          string
	Type          PatternType
	Direction     models.Direction
	StartIndex    int
	EndIndex      int
	Strength      float64
	TargetPrice   float64
	VolumeConfirm bool
}

// PatternType represents the type of pattern.
type PatternType string

const (
	PatternTypeCandlestick PatternType = "candlestick"
	PatternTypeChart       PatternType = "chart"
)
