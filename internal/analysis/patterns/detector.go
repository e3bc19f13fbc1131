package patterns

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"broker-assistant/internal/analysis"
	"broker-assistant/internal/models"
)

// Config controls which primary matches are reported.
type Config struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" default:"0.8" validate:"gte=0,lte=1"`
	RecentWindow        int     `mapstructure:"recent_window" default:"5" validate:"min=1"`
}

// DefaultConfig returns the standard detection settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.8,
		RecentWindow:        5,
	}
}

// Detector runs the primary detectors and degrades to the fallback
// detector when any of them fails.
type Detector struct {
	cfg      Config
	primary  []analysis.PatternDetector
	fallback *FallbackDetector
	logger   zerolog.Logger
}

// NewDetector creates a detector. With no primary detectors given, the
// candlestick and chart detectors are used.
func NewDetector(cfg Config, logger zerolog.Logger, primary ...analysis.PatternDetector) *Detector {
	if len(primary) == 0 {
		primary = []analysis.PatternDetector{NewCandlestickDetector(), NewChartPatternDetector()}
	}
	return &Detector{
		cfg:      cfg,
		primary:  primary,
		fallback: NewFallbackDetector(),
		logger:   logger.With().Str("component", "patterns").Logger(),
	}
}

// Detect returns recent pattern matches ordered by confidence. It never
// fails: a primary error or panic switches to the fallback detector.
func (d *Detector) Detect(candles []models.Candle) []models.PatternMatch {
	matches, err := d.runPrimary(candles)
	if err != nil {
		d.logger.Warn().Err(err).Int("candles", len(candles)).Msg("Primary pattern detection failed, using fallback")
		matches = d.fallback.Detect(candles)
	}
	sortMatches(matches)
	return matches
}

func (d *Detector) runPrimary(candles []models.Candle) (matches []models.PatternMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("pattern detector panic: %v", r)
		}
	}()

	cutoff := len(candles) - d.cfg.RecentWindow
	best := make(map[string]models.PatternMatch)
	for _, det := range d.primary {
		found, derr := det.Detect(candles)
		if derr != nil {
			return nil, fmt.Errorf("%s: %w", det.Name(), derr)
		}
		for _, p := range found {
			if p.EndIndex < cutoff || p.Strength < d.cfg.ConfidenceThreshold {
				continue
			}
			m := models.PatternMatch{
				Name:       p.Name,
				Confidence: p.Strength,
				Direction:  p.Direction,
				Index:      p.EndIndex,
				Method:     models.MethodPrimary,
			}
			// one match per pattern name: the most recent, then the strongest
			if prev, ok := best[m.Name]; ok && (prev.Index > m.Index || (prev.Index == m.Index && prev.Confidence >= m.Confidence)) {
				continue
			}
			best[m.Name] = m
		}
	}

	matches = make([]models.PatternMatch, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	return matches, nil
}

func sortMatches(matches []models.PatternMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Name < matches[j].Name
	})
}
