// Package models provides domain models for the broker assistant.
package models

import (
	"time"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Indicator names as they appear on readings and contributing factors.
const (
	IndicatorRSI        = "RSI"
	IndicatorBollinger  = "BollingerBands"
	IndicatorStochastic = "Stochastic"
	IndicatorMACD       = "MACD"
)

// Signal is the categorical interpretation of an indicator value.
type Signal string

const (
	SignalOversold   Signal = "oversold"
	SignalOverbought Signal = "overbought"
	SignalBullish    Signal = "bullish"
	SignalBearish    Signal = "bearish"
	SignalNeutral    Signal = "neutral"
)

// Direction returns the market direction implied by the signal.
func (s Signal) Direction() Direction {
	switch s {
	case SignalOversold, SignalBullish:
		return DirectionBullish
	case SignalOverbought, SignalBearish:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// IndicatorReading is the latest value of one indicator with its interpretation.
type IndicatorReading struct {
	Name   string             `json:"name"`
	Value  float64            `json:"value"`
	Signal Signal             `json:"signal"`
	Period int                `json:"period"`
	Extra  map[string]float64 `json:"extra,omitempty"`
}

// Direction is the expected price direction of a pattern or factor.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// DetectionMethod records which detector produced a pattern match.
type DetectionMethod string

const (
	MethodPrimary  DetectionMethod = "primary"
	MethodFallback DetectionMethod = "fallback"
)

// PatternMatch is a detected candlestick or chart pattern.
type PatternMatch struct {
	Name       string          `json:"name"`
	Confidence float64         `json:"confidence"`
	Direction  Direction       `json:"direction"`
	Index      int             `json:"index"`
	Method     DetectionMethod `json:"method"`
}

// Fundamentals holds valuation metrics for a symbol. Nil fields are unknown.
type Fundamentals struct {
	Symbol        string    `json:"symbol"`
	PERatio       *float64  `json:"pe_ratio,omitempty"`
	PriceToBook   *float64  `json:"price_to_book,omitempty"`
	DividendYield *float64  `json:"dividend_yield,omitempty"` // percent
	MarketCap     *float64  `json:"market_cap,omitempty"`
	AsOf          time.Time `json:"as_of"`
}

// FundamentalFlag is the result of one screening rule.
type FundamentalFlag struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Rule      string  `json:"rule"`
}

// Sentiment is an opaque news sentiment score in [-1, 1].
type Sentiment struct {
	Symbol   string    `json:"symbol"`
	Score    float64   `json:"score"`
	Articles int       `json:"articles,omitempty"`
	AsOf     time.Time `json:"as_of"`
}

// ClampedScore returns the score limited to [-1, 1].
func (s Sentiment) ClampedScore() float64 {
	switch {
	case s.Score > 1:
		return 1
	case s.Score < -1:
		return -1
	default:
		return s.Score
	}
}
