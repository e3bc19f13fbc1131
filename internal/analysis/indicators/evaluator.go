// Package indicators provides technical indicator calculations and their
// interpretation into categorical readings.
package indicators

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc"

	"broker-assistant/internal/models"
)

// EvaluatorConfig holds indicator periods and interpretation thresholds.
type EvaluatorConfig struct {
	RSIPeriod     int     `mapstructure:"rsi_period" default:"14" validate:"min=2"`
	RSIOversold   float64 `mapstructure:"rsi_oversold" default:"30" validate:"gt=0,lt=100"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" default:"70" validate:"gt=0,lt=100"`

	BollingerPeriod int     `mapstructure:"bollinger_period" default:"20" validate:"min=2"`
	BollingerStdDev float64 `mapstructure:"bollinger_stddev" default:"2" validate:"gt=0"`

	StochasticK          int     `mapstructure:"stochastic_k" default:"14" validate:"min=1"`
	StochasticD          int     `mapstructure:"stochastic_d" default:"3" validate:"min=1"`
	StochasticSmooth     int     `mapstructure:"stochastic_smooth" default:"1" validate:"min=1"`
	StochasticOversold   float64 `mapstructure:"stochastic_oversold" default:"20" validate:"gte=0,lte=100"`
	StochasticOverbought float64 `mapstructure:"stochastic_overbought" default:"80" validate:"gte=0,lte=100"`

	MACDFast   int `mapstructure:"macd_fast" default:"12" validate:"min=1"`
	MACDSlow   int `mapstructure:"macd_slow" default:"26" validate:"min=2"`
	MACDSignal int `mapstructure:"macd_signal" default:"9" validate:"min=1"`
}

// DefaultEvaluatorConfig returns the conventional indicator settings.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		RSIPeriod:            14,
		RSIOversold:          30,
		RSIOverbought:        70,
		BollingerPeriod:      20,
		BollingerStdDev:      2,
		StochasticK:          14,
		StochasticD:          3,
		StochasticSmooth:     1,
		StochasticOversold:   20,
		StochasticOverbought: 80,
		MACDFast:             12,
		MACDSlow:             26,
		MACDSignal:           9,
	}
}

// Evaluation is the set of readings produced for one candle series.
type Evaluation struct {
	Readings  []models.IndicatorReading `json:"readings"`
	Missing   []string                  `json:"missing,omitempty"`
	LastClose float64                   `json:"last_close"`
}

// Reading returns the reading with the given name.
func (e *Evaluation) Reading(name string) (models.IndicatorReading, bool) {
	for _, r := range e.Readings {
		if r.Name == name {
			return r, true
		}
	}
	return models.IndicatorReading{}, false
}

type readingFunc func(candles []models.Candle) (*models.IndicatorReading, error)

type namedReading struct {
	name string
	fn   readingFunc
}

// Evaluator turns a candle series into the latest reading of each indicator.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	cfg        EvaluatorConfig
	rsi        *RSI
	bollinger  *BollingerBands
	stochastic *Stochastic
	macd       *MACD
	readers    []namedReading
}

// NewEvaluator creates an evaluator from the given configuration.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	e := &Evaluator{
		cfg:        cfg,
		rsi:        NewRSI(cfg.RSIPeriod),
		bollinger:  NewBollingerBands(cfg.BollingerPeriod, cfg.BollingerStdDev),
		stochastic: NewStochastic(cfg.StochasticK, cfg.StochasticD, cfg.StochasticSmooth),
		macd:       NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
	}
	// Order here is the order of readings in every Evaluation
	e.readers = []namedReading{
		{models.IndicatorRSI, e.readRSI},
		{models.IndicatorBollinger, e.readBollinger},
		{models.IndicatorStochastic, e.readStochastic},
		{models.IndicatorMACD, e.readMACD},
	}
	return e
}

// MinCandles returns the longest lookback among the configured indicators.
func (e *Evaluator) MinCandles() int {
	n := e.rsi.Period()
	for _, p := range []int{e.bollinger.Period(), e.stochastic.Period() + 1, e.macd.Period() + 1} {
		if p > n {
			n = p
		}
	}
	return n
}

// Evaluate computes all readings concurrently. Indicators whose lookback
// exceeds the series are listed in Missing instead of failing the call.
func (e *Evaluator) Evaluate(ctx context.Context, candles []models.Candle) (*Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readings := make([]*models.IndicatorReading, len(e.readers))
	errs := make([]error, len(e.readers))

	var wg conc.WaitGroup
	for i, r := range e.readers {
		wg.Go(func() {
			readings[i], errs[i] = r.fn(candles)
		})
	}
	wg.Wait()

	eval := &Evaluation{Readings: make([]models.IndicatorReading, 0, len(e.readers))}
	if len(candles) > 0 {
		eval.LastClose = candles[len(candles)-1].Close
	}
	for i, r := range e.readers {
		switch {
		case errors.Is(errs[i], ErrInsufficientData):
			eval.Missing = append(eval.Missing, r.name)
		case errs[i] != nil:
			return nil, errs[i]
		case readings[i] != nil:
			eval.Readings = append(eval.Readings, *readings[i])
		}
	}
	return eval, nil
}

func (e *Evaluator) readRSI(candles []models.Candle) (*models.IndicatorReading, error) {
	values, err := e.rsi.Calculate(candles)
	if err != nil {
		return nil, err
	}
	v := values[len(values)-1]

	signal := models.SignalNeutral
	switch {
	case v < e.cfg.RSIOversold:
		signal = models.SignalOversold
	case v > e.cfg.RSIOverbought:
		signal = models.SignalOverbought
	}

	return &models.IndicatorReading{
		Name:   models.IndicatorRSI,
		Value:  v,
		Signal: signal,
		Period: e.cfg.RSIPeriod,
	}, nil
}

func (e *Evaluator) readBollinger(candles []models.Candle) (*models.IndicatorReading, error) {
	bands, err := e.bollinger.Calculate(candles)
	if err != nil {
		return nil, err
	}
	last := len(candles) - 1
	price := candles[last].Close
	upper, middle, lower := bands["upper"][last], bands["middle"][last], bands["lower"][last]

	signal := models.SignalNeutral
	if upper > lower {
		switch {
		case price <= lower:
			signal = models.SignalOversold
		case price >= upper:
			signal = models.SignalOverbought
		}
	}

	return &models.IndicatorReading{
		Name:   models.IndicatorBollinger,
		Value:  bands["percent_b"][last],
		Signal: signal,
		Period: e.cfg.BollingerPeriod,
		Extra: map[string]float64{
			"upper":  round2(upper),
			"middle": round2(middle),
			"lower":  round2(lower),
			"price":  price,
		},
	}, nil
}

func (e *Evaluator) readStochastic(candles []models.Candle) (*models.IndicatorReading, error) {
	values, err := e.stochastic.Calculate(candles)
	if err != nil {
		return nil, err
	}
	k, d := values["percent_k"], values["percent_d"]
	last := len(candles) - 1

	cross := 0
	if len(candles) > e.stochastic.Period() {
		cross = crossed(k, d)
	}

	signal := models.SignalNeutral
	switch {
	case cross > 0:
		signal = models.SignalBullish
	case cross < 0:
		signal = models.SignalBearish
	case k[last] < e.cfg.StochasticOversold && d[last] < e.cfg.StochasticOversold:
		signal = models.SignalOversold
	case k[last] > e.cfg.StochasticOverbought && d[last] > e.cfg.StochasticOverbought:
		signal = models.SignalOverbought
	}

	return &models.IndicatorReading{
		Name:   models.IndicatorStochastic,
		Value:  k[last],
		Signal: signal,
		Period: e.cfg.StochasticK,
		Extra: map[string]float64{
			"percent_k": round2(k[last]),
			"percent_d": round2(d[last]),
			"crossover": float64(cross),
		},
	}, nil
}

func (e *Evaluator) readMACD(candles []models.Candle) (*models.IndicatorReading, error) {
	values, err := e.macd.Calculate(candles)
	if err != nil {
		return nil, err
	}
	line, sig, hist := values["macd"], values["signal"], values["histogram"]
	last := len(candles) - 1

	cross := 0
	if len(candles) > e.macd.Period() {
		cross = crossed(line, sig)
	}

	signal := models.SignalNeutral
	switch {
	case cross > 0, cross == 0 && line[last] > sig[last]:
		signal = models.SignalBullish
	case cross < 0, cross == 0 && line[last] < sig[last]:
		signal = models.SignalBearish
	}

	return &models.IndicatorReading{
		Name:   models.IndicatorMACD,
		Value:  line[last],
		Signal: signal,
		Period: e.cfg.MACDSlow,
		Extra: map[string]float64{
			"macd":      line[last],
			"signal":    sig[last],
			"histogram": hist[last],
			"crossover": float64(cross),
		},
	}, nil
}
