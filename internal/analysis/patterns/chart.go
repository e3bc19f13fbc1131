package patterns

import (
	"math"

	"broker-assistant/internal/analysis"
	"broker-assistant/internal/models"
)

// ChartPatternDetector detects swing-based reversal patterns in price data.
type ChartPatternDetector struct {
	minPatternBars   int     // minimum bars before detection is attempted
	tolerancePercent float64 // tolerance for level matching
	minSwingStrength int     // bars on each side confirming a swing
	breakoutBonus    float64 // strength added once price clears the neckline
	poleMovePercent  float64 // minimum flagpole move
}

// NewChartPatternDetector creates a new chart pattern detector.
func NewChartPatternDetector() *ChartPatternDetector {
	return &ChartPatternDetector{
		minPatternBars:   10,
		tolerancePercent: 0.02,
		minSwingStrength: 3,
		breakoutBonus:    0.1,
		poleMovePercent:  0.05,
	}
}

func (d *ChartPatternDetector) Name() string {
	return "ChartPatternDetector"
}

// SwingPoint represents a swing high or low point.
type SwingPoint struct {
	Index  int
	Price  float64
	IsHigh bool
}

// Detect detects double tops and bottoms, head-and-shoulders formations and flags.
func (d *ChartPatternDetector) Detect(candles []models.Candle) ([]analysis.Pattern, error) {
	if len(candles) < d.minPatternBars {
		return nil, nil
	}

	var highs, lows []SwingPoint
	for _, s := range d.findSwingPoints(candles) {
		if s.IsHigh {
			highs = append(highs, s)
		} else {
			lows = append(lows, s)
		}
	}

	var patterns []analysis.Pattern
	for _, detect := range []func([]models.Candle, []SwingPoint, []SwingPoint) *analysis.Pattern{
		d.detectDoubleTop,
		d.detectDoubleBottom,
		d.detectHeadAndShoulders,
		d.detectInverseHeadAndShoulders,
		d.detectFlag,
	} {
		if p := detect(candles, highs, lows); p != nil {
			patterns = append(patterns, *p)
		}
	}
	return patterns, nil
}

// findSwingPoints identifies swing highs and lows in the price data.
func (d *ChartPatternDetector) findSwingPoints(candles []models.Candle) []SwingPoint {
	var swings []SwingPoint
	n := len(candles)
	k := d.minSwingStrength

	for i := k; i < n-k; i++ {
		isHigh, isLow := true, true
		for j := 1; j <= k; j++ {
			if candles[i].High <= candles[i-j].High || candles[i].High <= candles[i+j].High {
				isHigh = false
			}
			if candles[i].Low >= candles[i-j].Low || candles[i].Low >= candles[i+j].Low {
				isLow = false
			}
		}
		if isHigh {
			swings = append(swings, SwingPoint{Index: i, Price: candles[i].High, IsHigh: true})
		}
		if isLow {
			swings = append(swings, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}
	return swings
}

func (d *ChartPatternDetector) pricesEqual(p1, p2 float64) bool {
	if p1 == 0 {
		return p2 == 0
	}
	return math.Abs(p1-p2)/p1 <= d.tolerancePercent
}

// finish builds the pattern, extending it to the last candle when the close
// has broken through the neckline.
func (d *ChartPatternDetector) finish(candles []models.Candle, name string, dir models.Direction, start, end int, base, neckline, height float64) *analysis.Pattern {
	last := len(candles) - 1
	lastClose := candles[last].Close
	p := &analysis.Pattern{
		Name:       name,
		Type:       analysis.PatternTypeChart,
		Direction:  dir,
		StartIndex: start,
		EndIndex:   end,
		Strength:   base,
	}
	if dir == models.DirectionBullish {
		p.TargetPrice = neckline + height
		if lastClose > neckline {
			p.EndIndex = last
			p.Strength = math.Min(1, base+d.breakoutBonus)
		}
	} else {
		p.TargetPrice = neckline - height
		if lastClose < neckline {
			p.EndIndex = last
			p.Strength = math.Min(1, base+d.breakoutBonus)
		}
	}
	return p
}

// detectDoubleTop detects two approximately equal highs separated by a trough.
func (d *ChartPatternDetector) detectDoubleTop(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(highs) - 1; i >= 1; i-- {
		first, second := highs[i-1], highs[i]
		if !d.pricesEqual(first.Price, second.Price) {
			continue
		}
		trough, ok := extremeBetween(lows, first.Index, second.Index, false)
		if !ok {
			continue
		}
		return d.finish(candles, "Double Top", models.DirectionBearish, first.Index, second.Index, 0.75, trough.Price, first.Price-trough.Price)
	}
	return nil
}

// detectDoubleBottom detects two approximately equal lows separated by a peak.
func (d *ChartPatternDetector) detectDoubleBottom(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 1; i-- {
		first, second := lows[i-1], lows[i]
		if !d.pricesEqual(first.Price, second.Price) {
			continue
		}
		peak, ok := extremeBetween(highs, first.Index, second.Index, true)
		if !ok {
			continue
		}
		return d.finish(candles, "Double Bottom", models.DirectionBullish, first.Index, second.Index, 0.75, peak.Price, peak.Price-first.Price)
	}
	return nil
}

// detectHeadAndShoulders detects a higher middle peak between two equal shoulders.
func (d *ChartPatternDetector) detectHeadAndShoulders(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(highs) - 1; i >= 2; i-- {
		left, head, right := highs[i-2], highs[i-1], highs[i]
		if head.Price <= left.Price || head.Price <= right.Price || !d.pricesEqual(left.Price, right.Price) {
			continue
		}
		t1, ok1 := extremeBetween(lows, left.Index, head.Index, false)
		t2, ok2 := extremeBetween(lows, head.Index, right.Index, false)
		if !ok1 || !ok2 {
			continue
		}
		neckline := (t1.Price + t2.Price) / 2
		return d.finish(candles, "Head and Shoulders", models.DirectionBearish, left.Index, right.Index, 0.8, neckline, head.Price-neckline)
	}
	return nil
}

// detectInverseHeadAndShoulders detects a lower middle trough between two equal shoulders.
func (d *ChartPatternDetector) detectInverseHeadAndShoulders(candles []models.Candle, highs, lows []SwingPoint) *analysis.Pattern {
	for i := len(lows) - 1; i >= 2; i-- {
		left, head, right := lows[i-2], lows[i-1], lows[i]
		if head.Price >= left.Price || head.Price >= right.Price || !d.pricesEqual(left.Price, right.Price) {
			continue
		}
		p1, ok1 := extremeBetween(highs, left.Index, head.Index, true)
		p2, ok2 := extremeBetween(highs, head.Index, right.Index, true)
		if !ok1 || !ok2 {
			continue
		}
		neckline := (p1.Price + p2.Price) / 2
		return d.finish(candles, "Inverse Head and Shoulders", models.DirectionBullish, left.Index, right.Index, 0.8, neckline, neckline-head.Price)
	}
	return nil
}

// extremeBetween returns the highest (or lowest) swing strictly between two indices.
func extremeBetween(points []SwingPoint, from, to int, highest bool) (SwingPoint, bool) {
	var best SwingPoint
	found := false
	for _, p := range points {
		if p.Index <= from || p.Index >= to {
			continue
		}
		if !found || (highest && p.Price > best.Price) || (!highest && p.Price < best.Price) {
			best = p
			found = true
		}
	}
	return best, found
}

// detectFlag looks for a sharp pole followed by a tight consolidation over
// the most recent bars. The consolidation range serves as the neckline.
func (d *ChartPatternDetector) detectFlag(candles []models.Candle, _, _ []SwingPoint) *analysis.Pattern {
	const poleBars, flagBars = 5, 5
	n := len(candles)
	if n < poleBars+flagBars+1 {
		return nil
	}
	flagStart := n - flagBars - 1
	poleStart := flagStart - poleBars
	poleBase, poleTop := candles[poleStart].Close, candles[flagStart].Close
	if poleBase <= 0 {
		return nil
	}
	move := (poleTop - poleBase) / poleBase
	if math.Abs(move) < d.poleMovePercent {
		return nil
	}

	hi, lo := candles[flagStart].High, candles[flagStart].Low
	for _, c := range candles[flagStart : n-1] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	height := math.Abs(poleTop - poleBase)
	if hi-lo > height*0.5 {
		return nil
	}

	if move > 0 {
		return d.finish(candles, "Bull Flag", models.DirectionBullish, poleStart, n-2, 0.7, hi, height)
	}
	return d.finish(candles, "Bear Flag", models.DirectionBearish, poleStart, n-2, 0.7, lo, height)
}
