package scoring

import (
	"math"

	"broker-assistant/internal/models"
)

// WeightTable holds the base weight of each kind of evidence. It is passed
// by value and never modified after construction.
type WeightTable struct {
	RSI                 float64 `mapstructure:"rsi" default:"0.25" validate:"gte=0,lte=1"`
	Bollinger           float64 `mapstructure:"bollinger" default:"0.15" validate:"gte=0,lte=1"`
	StochasticCrossover float64 `mapstructure:"stochastic_crossover" default:"0.10" validate:"gte=0,lte=1"`
	StochasticZone      float64 `mapstructure:"stochastic_zone" default:"0.15" validate:"gte=0,lte=1"`
	MACD                float64 `mapstructure:"macd" default:"0.20" validate:"gte=0,lte=1"`
	PatternScale        float64 `mapstructure:"pattern_scale" default:"0.30" validate:"gte=0,lte=1"`
	FundamentalPass     float64 `mapstructure:"fundamental_pass" default:"0.10" validate:"gte=0,lte=1"`
	FundamentalFail     float64 `mapstructure:"fundamental_fail" default:"0.05" validate:"gte=0,lte=1"`
	SentimentScale      float64 `mapstructure:"sentiment_scale" default:"0.30" validate:"gte=0,lte=1"`
}

// DefaultWeights returns the standard weight table.
func DefaultWeights() WeightTable {
	return WeightTable{
		RSI:                 0.25,
		Bollinger:           0.15,
		StochasticCrossover: 0.10,
		StochasticZone:      0.15,
		MACD:                0.20,
		PatternScale:        0.30,
		FundamentalPass:     0.10,
		FundamentalFail:     0.05,
		SentimentScale:      0.30,
	}
}

// Indicator returns the weight of a reading. Neutral readings weigh nothing.
func (w WeightTable) Indicator(r models.IndicatorReading) float64 {
	if r.Signal.Direction() == models.DirectionNeutral {
		return 0
	}
	switch r.Name {
	case models.IndicatorRSI:
		return w.RSI
	case models.IndicatorBollinger:
		return w.Bollinger
	case models.IndicatorStochastic:
		// crossovers are reported as bullish/bearish, zones as oversold/overbought
		if r.Signal == models.SignalBullish || r.Signal == models.SignalBearish {
			return w.StochasticCrossover
		}
		return w.StochasticZone
	case models.IndicatorMACD:
		return w.MACD
	default:
		return 0
	}
}

// Pattern returns the weight of a pattern match.
func (w WeightTable) Pattern(m models.PatternMatch) float64 {
	if m.Direction == models.DirectionNeutral {
		return 0
	}
	return clamp01(m.Confidence) * w.PatternScale
}

// Fundamental returns the weight and direction of a screening flag.
func (w WeightTable) Fundamental(f models.FundamentalFlag) (float64, models.Direction) {
	if f.Passed {
		return w.FundamentalPass, models.DirectionBullish
	}
	return w.FundamentalFail, models.DirectionBearish
}

// Sentiment returns the weight and direction of a sentiment score.
func (w WeightTable) Sentiment(s models.Sentiment) (float64, models.Direction) {
	score := s.ClampedScore()
	switch {
	case score > 0:
		return math.Abs(score) * w.SentimentScale, models.DirectionBullish
	case score < 0:
		return math.Abs(score) * w.SentimentScale, models.DirectionBearish
	default:
		return 0, models.DirectionNeutral
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
