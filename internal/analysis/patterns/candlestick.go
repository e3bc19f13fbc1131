// Package patterns provides chart and candlestick pattern detection.
package patterns

import (
	"math"

	"broker-assistant/internal/analysis"
	"broker-assistant/internal/models"
)

// candleRule detects one pattern ending at idx. span is the number of
// candles the pattern occupies.
type candleRule struct {
	span   int
	detect func(d *CandlestickDetector, candles []models.Candle, idx int) (name string, dir models.Direction, base float64, ok bool)
}

var candleRules = []candleRule{
	{1, (*CandlestickDetector).doji},
	{1, (*CandlestickDetector).hammer},
	{1, (*CandlestickDetector).shootingStar},
	{2, (*CandlestickDetector).engulfing},
	{2, (*CandlestickDetector).harami},
	{3, (*CandlestickDetector).star},
	{3, (*CandlestickDetector).threeSoldiersOrCrows},
}

// CandlestickDetector detects candlestick patterns in price data.
type CandlestickDetector struct {
	dojiThreshold      float64 // body as fraction of range
	shadowThreshold    float64 // shadow as multiple of body
	volumeConfirmRatio float64 // volume vs average for confirmation
}

// NewCandlestickDetector creates a new candlestick pattern detector.
func NewCandlestickDetector() *CandlestickDetector {
	return &CandlestickDetector{
		dojiThreshold:      0.1,
		shadowThreshold:    2.0,
		volumeConfirmRatio: 1.5,
	}
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

// Detect scans every position for every rule.
func (d *CandlestickDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	if len(candles) < 3 {
		return nil, nil
	}

	avgVolume := averageVolume(candles)
	var patterns []analysis.Pattern
	for _, rule := range candleRules {
		for idx := rule.span - 1; idx < len(candles); idx++ {
			name, dir, base, ok := rule.detect(d, candles, idx)
			if !ok {
				continue
			}
			confirmed := d.hasVolumeConfirmation(candles[idx], avgVolume)
			patterns = append(patterns, analysis.Pattern{
				Name:          name,
				Type:          analysis.PatternTypeCandlestick,
				Direction:     dir,
				StartIndex:    idx - rule.span + 1,
				EndIndex:      idx,
				Strength:      strength(base, confirmed),
				VolumeConfirm: confirmed,
			})
		}
	}
	return patterns, nil
}

func (d *CandlestickDetector) doji(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	c := candles[idx]
	rng := candleRange(c)
	if rng == 0 || bodySize(c)/rng > d.dojiThreshold {
		return "", "", 0, false
	}
	return "Doji", models.DirectionNeutral, 0.5, true
}

func (d *CandlestickDetector) hammer(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	c := candles[idx]
	body := bodySize(c)
	if body == 0 || lowerShadow(c) < body*d.shadowThreshold || upperShadow(c) > body*0.5 {
		return "", "", 0, false
	}
	switch {
	case isInDowntrend(candles, idx):
		return "Hammer", models.DirectionBullish, 0.7, true
	case isInUptrend(candles, idx):
		return "Hanging Man", models.DirectionBearish, 0.7, true
	}
	return "", "", 0, false
}

func (d *CandlestickDetector) shootingStar(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	c := candles[idx]
	body := bodySize(c)
	if body == 0 || upperShadow(c) < body*d.shadowThreshold || lowerShadow(c) > body*0.5 {
		return "", "", 0, false
	}
	switch {
	case isInUptrend(candles, idx):
		return "Shooting Star", models.DirectionBearish, 0.7, true
	case isInDowntrend(candles, idx):
		return "Inverted Hammer", models.DirectionBullish, 0.6, true
	}
	return "", "", 0, false
}

func (d *CandlestickDetector) engulfing(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	prev, curr := candles[idx-1], candles[idx]
	if bodySize(curr) <= bodySize(prev) {
		return "", "", 0, false
	}
	switch {
	case isBearish(prev) && isBullish(curr) && curr.Open <= prev.Close && curr.Close >= prev.Open:
		return "Bullish Engulfing", models.DirectionBullish, 0.8, true
	case isBullish(prev) && isBearish(curr) && curr.Open >= prev.Close && curr.Close <= prev.Open:
		return "Bearish Engulfing", models.DirectionBearish, 0.8, true
	}
	return "", "", 0, false
}

func (d *CandlestickDetector) harami(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	prev, curr := candles[idx-1], candles[idx]
	if bodySize(curr) == 0 || bodySize(curr) >= bodySize(prev)*0.5 {
		return "", "", 0, false
	}
	top, bottom := math.Max(curr.Open, curr.Close), math.Min(curr.Open, curr.Close)
	switch {
	case isBearish(prev) && top < prev.Open && bottom > prev.Close:
		return "Bullish Harami", models.DirectionBullish, 0.6, true
	case isBullish(prev) && top < prev.Close && bottom > prev.Open:
		return "Bearish Harami", models.DirectionBearish, 0.6, true
	}
	return "", "", 0, false
}

// star detects morning and evening stars: a long candle, a small-bodied
// middle candle, then a long opposite candle closing past the first's midpoint.
func (d *CandlestickDetector) star(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	first, middle, last := candles[idx-2], candles[idx-1], candles[idx]
	firstBody := bodySize(first)
	if firstBody == 0 || bodySize(middle) > firstBody*0.3 || bodySize(last) < firstBody*0.5 {
		return "", "", 0, false
	}
	midpoint := (first.Open + first.Close) / 2
	switch {
	case isBearish(first) && isBullish(last) && math.Max(middle.Open, middle.Close) < first.Close && last.Close > midpoint:
		return "Morning Star", models.DirectionBullish, 0.85, true
	case isBullish(first) && isBearish(last) && math.Min(middle.Open, middle.Close) > first.Close && last.Close < midpoint:
		return "Evening Star", models.DirectionBearish, 0.85, true
	}
	return "", "", 0, false
}

func (d *CandlestickDetector) threeSoldiersOrCrows(candles []models.Candle, idx int) (string, models.Direction, float64, bool) {
	a, b, c := candles[idx-2], candles[idx-1], candles[idx]
	long := func(x models.Candle) bool {
		rng := candleRange(x)
		return rng > 0 && bodySize(x)/rng >= 0.6
	}
	if !long(a) || !long(b) || !long(c) {
		return "", "", 0, false
	}
	switch {
	case isBullish(a) && isBullish(b) && isBullish(c) &&
		b.Close > a.Close && c.Close > b.Close &&
		b.Open > a.Open && b.Open < a.Close && c.Open > b.Open && c.Open < b.Close:
		return "Three White Soldiers", models.DirectionBullish, 0.9, true
	case isBearish(a) && isBearish(b) && isBearish(c) &&
		b.Close < a.Close && c.Close < b.Close &&
		b.Open < a.Open && b.Open > a.Close && c.Open < b.Open && c.Open > b.Close:
		return "Three Black Crows", models.DirectionBearish, 0.9, true
	}
	return "", "", 0, false
}

func (d *CandlestickDetector) hasVolumeConfirmation(c models.Candle, avgVolume float64) bool {
	if avgVolume == 0 {
		return false
	}
	return float64(c.Volume) >= avgVolume*d.volumeConfirmRatio
}

// strength boosts a base strength by 20% on volume confirmation, capped at 1.
func strength(base float64, volumeConfirm bool) float64 {
	if volumeConfirm {
		return math.Min(1.0, base*1.2)
	}
	return base
}

func bodySize(c models.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

func candleRange(c models.Candle) float64 {
	return c.High - c.Low
}

func upperShadow(c models.Candle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}

func lowerShadow(c models.Candle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

func isBullish(c models.Candle) bool {
	return c.Close > c.Open
}

func isBearish(c models.Candle) bool {
	return c.Close < c.Open
}

func averageVolume(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total int64
	for _, c := range candles {
		total += c.Volume
	}
	return float64(total) / float64(len(candles))
}

// isInDowntrend reports whether the three closes before idx are falling.
func isInDowntrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close < candles[idx-2].Close &&
		candles[idx-2].Close < candles[idx-3].Close
}

// isInUptrend reports whether the three closes before idx are rising.
func isInUptrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close > candles[idx-2].Close &&
		candles[idx-2].Close > candles[idx-3].Close
}
