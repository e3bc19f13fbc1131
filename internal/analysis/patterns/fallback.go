package patterns

import (
	"broker-assistant/internal/models"
)

// FallbackDetector classifies the most recent candle by body and shadow
// proportions alone. It needs no history and never fails.
type FallbackDetector struct {
	DojiBodyRatio float64
	ShadowRatio   float64
}

// NewFallbackDetector returns the detector with its standard proportions.
func NewFallbackDetector() *FallbackDetector {
	return &FallbackDetector{
		DojiBodyRatio: 0.1,
		ShadowRatio:   0.6,
	}
}

// Detect returns zero or more matches for the last candle.
func (f *FallbackDetector) Detect(candles []models.Candle) []models.PatternMatch {
	if len(candles) == 0 {
		return nil
	}
	idx := len(candles) - 1
	c := candles[idx]
	rng := candleRange(c)
	if rng <= 0 {
		return nil
	}

	var matches []models.PatternMatch
	add := func(name string, confidence float64, dir models.Direction) {
		matches = append(matches, models.PatternMatch{
			Name:       name,
			Confidence: confidence,
			Direction:  dir,
			Index:      idx,
			Method:     models.MethodFallback,
		})
	}

	if bodySize(c)/rng < f.DojiBodyRatio {
		add("Doji", 0.7, models.DirectionNeutral)
	}
	if lowerShadow(c)/rng > f.ShadowRatio {
		add("Hammer", 0.65, models.DirectionBullish)
	}
	if upperShadow(c)/rng > f.ShadowRatio {
		add("Shooting Star", 0.65, models.DirectionBearish)
	}
	return matches
}
