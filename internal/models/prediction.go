package models

import "time"

// SignalType is the recommendation carried by a prediction.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Valid reports whether the signal type is one of BUY, SELL or HOLD.
func (s SignalType) Valid() bool {
	return s == SignalBuy || s == SignalSell || s == SignalHold
}

// Outcome represents the verification state of a prediction.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
)

// FactorSource identifies which evaluator produced a contributing factor.
type FactorSource string

const (
	SourceTechnical   FactorSource = "technical"
	SourceFundamental FactorSource = "fundamental"
	SourceSentiment   FactorSource = "sentiment"
)

// Rank orders sources for tie-breaking: technical before fundamental before sentiment.
func (s FactorSource) Rank() int {
	switch s {
	case SourceTechnical:
		return 0
	case SourceFundamental:
		return 1
	case SourceSentiment:
		return 2
	default:
		return 3
	}
}

// TimeHorizon is the window over which a prediction is expected to play out.
type TimeHorizon string

const (
	HorizonShort  TimeHorizon = "short"
	HorizonMedium TimeHorizon = "medium"
	HorizonLong   TimeHorizon = "long"
)

// Duration returns the expiry window for the horizon.
func (h TimeHorizon) Duration() time.Duration {
	switch h {
	case HorizonShort:
		return 7 * 24 * time.Hour
	case HorizonLong:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// MarketCondition summarizes the trend at prediction time.
type MarketCondition string

const (
	MarketBullish  MarketCondition = "bullish"
	MarketBearish  MarketCondition = "bearish"
	MarketSideways MarketCondition = "sideways"
)

// AnalysisType records which inputs fed a prediction.
type AnalysisType string

const (
	AnalysisTechnical   AnalysisType = "technical"
	AnalysisFundamental AnalysisType = "fundamental"
	AnalysisHybrid      AnalysisType = "hybrid"
)

// ContributingFactor is one weighted reason behind a prediction.
type ContributingFactor struct {
	Name        string       `json:"factor_name"`
	Description string       `json:"description"`
	Weight      float64      `json:"weight"`
	Source      FactorSource `json:"source"`
	Direction   Direction    `json:"direction"`
	Value       float64      `json:"value"`
}

// Prediction is an append-only ledger entry. Only the execution and
// verification fields change after creation, each at most once.
type Prediction struct {
	ID                string               `json:"id"`
	Symbol            string               `json:"symbol"`
	CreatedAt         time.Time            `json:"created_at"`
	SignalType        SignalType           `json:"signal_type"`
	ConfidenceScore   float64              `json:"confidence_score"`
	Factors           []ContributingFactor `json:"contributing_factors"`
	BullishWeight     float64              `json:"bullish_weight"`
	BearishWeight     float64              `json:"bearish_weight"`
	PriceAtPrediction float64              `json:"price_at_prediction"`
	TargetPrice       float64              `json:"target_price,omitempty"`
	StopLoss          float64              `json:"stop_loss,omitempty"`
	TimeHorizon       TimeHorizon          `json:"time_horizon"`
	ExpiresAt         time.Time            `json:"expires_at"`
	MarketCondition   MarketCondition      `json:"market_condition"`
	AnalysisType      AnalysisType         `json:"analysis_type"`
	ModelVersion      string               `json:"model_version"`

	Executed      bool       `json:"executed"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	RealizedPrice *float64   `json:"realized_price,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	Version       int        `json:"version"`
}

// IsVerified reports whether an outcome has been recorded.
func (p *Prediction) IsVerified() bool {
	return p.Outcome == OutcomeCorrect || p.Outcome == OutcomeIncorrect
}

// Clone returns a deep copy of the prediction.
func (p *Prediction) Clone() *Prediction {
	if p == nil {
		return nil
	}
	c := *p
	if p.Factors != nil {
		c.Factors = make([]ContributingFactor, len(p.Factors))
		copy(c.Factors, p.Factors)
	}
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		c.ExecutedAt = &t
	}
	if p.RealizedPrice != nil {
		v := *p.RealizedPrice
		c.RealizedPrice = &v
	}
	if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}

// AccuracyStats reports prediction accuracy over verified predictions.
type AccuracyStats struct {
	Total        int                            `json:"total"`
	Correct      int                            `json:"correct"`
	Incorrect    int                            `json:"incorrect"`
	AccuracyRate float64                        `json:"accuracy_rate"`
	Pending      int                            `json:"pending"`
	BySignal     map[SignalType]*SignalAccuracy `json:"by_signal"`
}

// SignalAccuracy is the accuracy breakdown for one signal type.
type SignalAccuracy struct {
	Total        int     `json:"total"`
	Correct      int     `json:"correct"`
	AccuracyRate float64 `json:"accuracy_rate"`
}
