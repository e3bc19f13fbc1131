// Package fundamentals screens valuation metrics against fixed thresholds.
package fundamentals

import (
	"fmt"

	"broker-assistant/internal/models"
)

// Metric names reported in flags.
const (
	MetricPERatio       = "pe_ratio"
	MetricPriceToBook   = "price_to_book"
	MetricDividendYield = "dividend_yield"
)

// Thresholds configures the screening rules. Each rule can be switched off.
type Thresholds struct {
	PEEnabled    bool    `mapstructure:"pe_enabled" default:"true"`
	PECeiling    float64 `mapstructure:"pe_ceiling" default:"20" validate:"gt=0"`
	PBEnabled    bool    `mapstructure:"pb_enabled" default:"true"`
	PBCeiling    float64 `mapstructure:"pb_ceiling" default:"1" validate:"gt=0"`
	YieldEnabled bool    `mapstructure:"yield_enabled" default:"true"`
	YieldFloor   float64 `mapstructure:"yield_floor" default:"2" validate:"gte=0"`
	YieldCeiling float64 `mapstructure:"yield_ceiling" default:"8" validate:"gtfield=YieldFloor"`
}

// DefaultThresholds returns the standard value-investing thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PEEnabled:    true,
		PECeiling:    20,
		PBEnabled:    true,
		PBCeiling:    1.0,
		YieldEnabled: true,
		YieldFloor:   2,
		YieldCeiling: 8,
	}
}

type rule struct {
	metric  string
	enabled func(t Thresholds) bool
	value   func(f models.Fundamentals) *float64
	check   func(v float64, t Thresholds) (threshold float64, passed bool, desc string)
}

var rules = []rule{
	{
		metric:  MetricPERatio,
		enabled: func(t Thresholds) bool { return t.PEEnabled },
		value:   func(f models.Fundamentals) *float64 { return f.PERatio },
		check: func(v float64, t Thresholds) (float64, bool, string) {
			// negative earnings never pass
			return t.PECeiling, v > 0 && v < t.PECeiling, fmt.Sprintf("0 < P/E < %.2f", t.PECeiling)
		},
	},
	{
		metric:  MetricPriceToBook,
		enabled: func(t Thresholds) bool { return t.PBEnabled },
		value:   func(f models.Fundamentals) *float64 { return f.PriceToBook },
		check: func(v float64, t Thresholds) (float64, bool, string) {
			return t.PBCeiling, v > 0 && v < t.PBCeiling, fmt.Sprintf("P/B < %.2f", t.PBCeiling)
		},
	},
	{
		metric:  MetricDividendYield,
		enabled: func(t Thresholds) bool { return t.YieldEnabled },
		value:   func(f models.Fundamentals) *float64 { return f.DividendYield },
		check: func(v float64, t Thresholds) (float64, bool, string) {
			threshold := t.YieldFloor
			if v > t.YieldCeiling {
				threshold = t.YieldCeiling
			}
			return threshold, v >= t.YieldFloor && v <= t.YieldCeiling,
				fmt.Sprintf("%.2f%% <= yield <= %.2f%%", t.YieldFloor, t.YieldCeiling)
		},
	},
}

// Screen evaluates every enabled rule whose metric is known. The order of
// the returned flags is fixed: P/E, P/B, dividend yield.
func Screen(f models.Fundamentals, t Thresholds) []models.FundamentalFlag {
	flags := make([]models.FundamentalFlag, 0, len(rules))
	for _, r := range rules {
		if !r.enabled(t) {
			continue
		}
		v := r.value(f)
		if v == nil {
			continue
		}
		threshold, passed, desc := r.check(*v, t)
		flags = append(flags, models.FundamentalFlag{
			Metric:    r.metric,
			Value:     *v,
			Threshold: threshold,
			Passed:    passed,
			Rule:      desc,
		})
	}
	return flags
}

// Passed counts the flags that passed.
func Passed(flags []models.FundamentalFlag) int {
	n := 0
	for _, f := range flags {
		if f.Passed {
			n++
		}
	}
	return n
}
