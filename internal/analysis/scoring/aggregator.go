// Package scoring turns indicator, pattern, fundamental and sentiment
// evidence into an explainable BUY/SELL/HOLD prediction.
package scoring

import (
	"fmt"
	"math"
	"sort"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// ModelVersion identifies the aggregation rules that produced a prediction.
const ModelVersion = "1.0"

// Config controls the decision rule and the price levels attached to a
// prediction.
type Config struct {
	Margin       float64            `mapstructure:"margin" default:"0.1" validate:"gte=0,lte=1"`
	TopN         int                `mapstructure:"top_n" default:"5" validate:"min=1"`
	Horizon      models.TimeHorizon `mapstructure:"horizon" default:"medium" validate:"oneof=short medium long"`
	TargetPct    float64            `mapstructure:"target_pct" default:"0.05" validate:"gt=0,lt=1"`
	StopLossPct  float64            `mapstructure:"stop_loss_pct" default:"0.03" validate:"gt=0,lt=1"`
	ModelVersion string             `mapstructure:"model_version" default:"1.0"`
}

// DefaultConfig returns the standard aggregator settings.
func DefaultConfig() Config {
	return Config{
		Margin:       0.1,
		TopN:         5,
		Horizon:      models.HorizonMedium,
		TargetPct:    0.05,
		StopLossPct:  0.03,
		ModelVersion: ModelVersion,
	}
}

// Input is everything known about a symbol at prediction time. Any part
// may be empty.
type Input struct {
	Symbol    string
	LastClose float64
	Readings  []models.IndicatorReading
	Patterns  []models.PatternMatch
	Flags     []models.FundamentalFlag
	Sentiment *models.Sentiment
}

// Decision is the outcome of reducing a set of weighted factors.
type Decision struct {
	Signal        models.SignalType
	Confidence    float64
	BullishWeight float64
	BearishWeight float64
	Factors       []models.ContributingFactor
}

// Aggregator combines evidence into predictions. It holds only immutable
// configuration and is safe for concurrent use.
type Aggregator struct {
	weights WeightTable
	cfg     Config
}

// NewAggregator creates an aggregator.
func NewAggregator(weights WeightTable, cfg Config) *Aggregator {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.Horizon == "" {
		cfg.Horizon = models.HorizonMedium
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = ModelVersion
	}
	return &Aggregator{weights: weights, cfg: cfg}
}

// Weights returns the weight table in use.
func (a *Aggregator) Weights() WeightTable {
	return a.weights
}

// Aggregate builds an unrecorded prediction from the input. It returns
// ErrInsufficientSignal when no evidence carries a direction.
func (a *Aggregator) Aggregate(in Input) (*models.Prediction, error) {
	d, err := a.Decide(a.Candidates(in))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Symbol, err)
	}

	p := &models.Prediction{
		Symbol:            in.Symbol,
		SignalType:        d.Signal,
		ConfidenceScore:   d.Confidence,
		Factors:           d.Factors,
		BullishWeight:     d.BullishWeight,
		BearishWeight:     d.BearishWeight,
		PriceAtPrediction: in.LastClose,
		TimeHorizon:       a.cfg.Horizon,
		MarketCondition:   marketCondition(in.Readings),
		AnalysisType:      analysisType(in),
		ModelVersion:      a.cfg.ModelVersion,
		Outcome:           models.OutcomePending,
	}

	switch d.Signal {
	case models.SignalBuy:
		p.TargetPrice = in.LastClose * (1 + a.cfg.TargetPct)
		p.StopLoss = in.LastClose * (1 - a.cfg.StopLossPct)
	case models.SignalSell:
		p.TargetPrice = in.LastClose * (1 - a.cfg.TargetPct)
		p.StopLoss = in.LastClose * (1 + a.cfg.StopLossPct)
	}
	return p, nil
}

// Candidates converts the input into weighted factors. Neutral and
// zero-weight evidence is dropped.
func (a *Aggregator) Candidates(in Input) []models.ContributingFactor {
	var factors []models.ContributingFactor
	add := func(f models.ContributingFactor) {
		if f.Weight > 0 && f.Direction != models.DirectionNeutral {
			factors = append(factors, f)
		}
	}

	for _, r := range in.Readings {
		add(models.ContributingFactor{
			Name:        r.Name,
			Description: describeReading(r),
			Weight:      a.weights.Indicator(r),
			Source:      models.SourceTechnical,
			Direction:   r.Signal.Direction(),
			Value:       r.Value,
		})
	}

	for _, m := range in.Patterns {
		add(models.ContributingFactor{
			Name:        m.Name,
			Description: fmt.Sprintf("%s pattern (%s) with %.0f%% confidence", m.Name, m.Direction, m.Confidence*100),
			Weight:      a.weights.Pattern(m),
			Source:      models.SourceTechnical,
			Direction:   m.Direction,
			Value:       m.Confidence,
		})
	}

	for _, f := range in.Flags {
		w, dir := a.weights.Fundamental(f)
		verdict := "fails"
		if f.Passed {
			verdict = "passes"
		}
		add(models.ContributingFactor{
			Name:        f.Metric,
			Description: fmt.Sprintf("%s %.2f %s %s", f.Metric, f.Value, verdict, f.Rule),
			Weight:      w,
			Source:      models.SourceFundamental,
			Direction:   dir,
			Value:       f.Value,
		})
	}

	if in.Sentiment != nil {
		w, dir := a.weights.Sentiment(*in.Sentiment)
		add(models.ContributingFactor{
			Name:        "news_sentiment",
			Description: fmt.Sprintf("News sentiment %+.2f is %s", in.Sentiment.ClampedScore(), dir),
			Weight:      w,
			Source:      models.SourceSentiment,
			Direction:   dir,
			Value:       in.Sentiment.ClampedScore(),
		})
	}
	return factors
}

// Decide reduces candidate factors to a signal. The factor weights are
// summed over all candidates before the list is trimmed to the top N.
func (a *Aggregator) Decide(candidates []models.ContributingFactor) (*Decision, error) {
	var bullish, bearish float64
	kept := make([]models.ContributingFactor, 0, len(candidates))
	for _, f := range candidates {
		if f.Weight <= 0 || math.IsNaN(f.Weight) {
			continue
		}
		switch f.Direction {
		case models.DirectionBullish:
			bullish += f.Weight
		case models.DirectionBearish:
			bearish += f.Weight
		default:
			continue
		}
		kept = append(kept, f)
	}

	total := bullish + bearish
	if len(kept) == 0 || total <= 0 {
		return nil, apperrors.ErrInsufficientSignal
	}

	d := &Decision{
		Signal:        models.SignalHold,
		Confidence:    clamp01(math.Max(bullish, bearish) / total),
		BullishWeight: bullish,
		BearishWeight: bearish,
	}
	switch {
	case bullish-bearish > a.cfg.Margin:
		d.Signal = models.SignalBuy
	case bearish-bullish > a.cfg.Margin:
		d.Signal = models.SignalSell
	}

	rankFactors(kept)
	if len(kept) > a.cfg.TopN {
		kept = kept[:a.cfg.TopN]
	}
	d.Factors = kept
	return d, nil
}

// rankFactors orders by weight, then source, then name.
func rankFactors(factors []models.ContributingFactor) {
	sort.SliceStable(factors, func(i, j int) bool {
		a, b := factors[i], factors[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Source.Rank() != b.Source.Rank() {
			return a.Source.Rank() < b.Source.Rank()
		}
		return a.Name < b.Name
	})
}

func describeReading(r models.IndicatorReading) string {
	switch r.Name {
	case models.IndicatorRSI:
		return fmt.Sprintf("RSI(%d) at %.2f is %s", r.Period, r.Value, r.Signal)
	case models.IndicatorBollinger:
		return fmt.Sprintf("Bollinger %%B at %.2f is %s", r.Value, r.Signal)
	case models.IndicatorStochastic:
		return fmt.Sprintf("Stochastic %%K at %.2f is %s", r.Value, r.Signal)
	case models.IndicatorMACD:
		return fmt.Sprintf("MACD line at %.4f is %s", r.Value, r.Signal)
	default:
		return fmt.Sprintf("%s at %.2f is %s", r.Name, r.Value, r.Signal)
	}
}

// marketCondition votes the MACD trend and RSI position relative to 50.
func marketCondition(readings []models.IndicatorReading) models.MarketCondition {
	var bull, bear int
	for _, r := range readings {
		switch r.Name {
		case models.IndicatorMACD:
			switch r.Signal.Direction() {
			case models.DirectionBullish:
				bull++
			case models.DirectionBearish:
				bear++
			}
		case models.IndicatorRSI:
			switch {
			case r.Value > 50:
				bull++
			case r.Value < 50:
				bear++
			}
		}
	}
	switch {
	case bull > bear:
		return models.MarketBullish
	case bear > bull:
		return models.MarketBearish
	default:
		return models.MarketSideways
	}
}

func analysisType(in Input) models.AnalysisType {
	technical := len(in.Readings) > 0 || len(in.Patterns) > 0
	other := len(in.Flags) > 0 || in.Sentiment != nil
	switch {
	case technical && other:
		return models.AnalysisHybrid
	case other:
		return models.AnalysisFundamental
	default:
		return models.AnalysisTechnical
	}
}
