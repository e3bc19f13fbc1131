package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broker-assistant/internal/analysis/fundamentals"
	"broker-assistant/internal/analysis/indicators"
	"broker-assistant/internal/analysis/patterns"
	"broker-assistant/internal/analysis/scoring"
	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/events"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/models"
	"broker-assistant/internal/providers"
	"broker-assistant/internal/store"
	"broker-assistant/pkg/utils"
)

var t0 = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

// failingProvider fails one collaborator's requests for one symbol.
type failingProvider struct {
	*providers.StaticProvider
	collaborator string
	symbol       string
}

var errRefused = errors.New("connection refused")

func (f *failingProvider) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	if f.collaborator == apperrors.CollaboratorPrice && symbol == f.symbol {
		return nil, errRefused
	}
	return f.StaticProvider.Candles(ctx, symbol, lookback)
}

func (f *failingProvider) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	if f.collaborator == apperrors.CollaboratorFundamentals && symbol == f.symbol {
		return nil, errRefused
	}
	return f.StaticProvider.Fundamentals(ctx, symbol)
}

func (f *failingProvider) Sentiment(ctx context.Context, symbol string, window time.Duration) (*models.Sentiment, error) {
	if f.collaborator == apperrors.CollaboratorSentiment && symbol == f.symbol {
		return nil, errRefused
	}
	return f.StaticProvider.Sentiment(ctx, symbol, window)
}

func declining(n int, from float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		c := from - float64(i)*0.8
		out[i] = models.Candle{
			Timestamp: t0.AddDate(0, 0, i-n),
			Open:      c + 0.4,
			High:      c + 0.9,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	static *providers.StaticProvider
	events *events.Memory
	now    *time.Time
}

// newFixture builds a service whose price feed fails for the failing symbol.
func newFixture(t *testing.T, failing string) *fixture {
	t.Helper()
	return newFailingFixture(t, apperrors.CollaboratorPrice, failing)
}

func newFailingFixture(t *testing.T, collaborator, failing string) *fixture {
	t.Helper()
	now := t0
	static := providers.NewStaticProvider()
	for _, sym := range []string{"ACME", "GLOBEX", "INITECH"} {
		static.SetCandles(sym, declining(80, 150))
	}
	var raw providers.Provider = static
	if failing != "" {
		raw = &failingProvider{StaticProvider: static, collaborator: collaborator, symbol: failing}
	}
	retry := utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	guarded := providers.NewGuarded(raw, nil, retry, nil, zerolog.Nop())

	pub := events.NewMemory()
	led := ledger.New(store.NewMemoryStore(), ledger.DefaultConfig(), zerolog.Nop(),
		ledger.WithClock(func() time.Time { return now }),
		ledger.WithPublisher(pub),
	)
	svc := NewService(Components{
		Provider:   guarded,
		Evaluator:  indicators.NewEvaluator(indicators.DefaultEvaluatorConfig()),
		Detector:   patterns.NewDetector(patterns.DefaultConfig(), zerolog.Nop()),
		Thresholds: fundamentals.DefaultThresholds(),
		Aggregator: scoring.NewAggregator(scoring.DefaultWeights(), scoring.DefaultConfig()),
		Ledger:     led,
	}, Settings{Lookback: 100}, zerolog.Nop())
	return &fixture{svc: svc, static: static, events: pub, now: &now}
}

func float(v float64) *float64 { return &v }

func TestEvaluate(t *testing.T) {
	f := newFixture(t, "")
	eval, err := f.svc.Evaluate(context.Background(), " acme ")
	if err != nil {
		t.Fatal(err)
	}
	if eval.Symbol != "ACME" || eval.Candles != 80 {
		t.Errorf("evaluation header = %s/%d", eval.Symbol, eval.Candles)
	}
	rsi, ok := (&indicators.Evaluation{Readings: eval.Indicators}).Reading(models.IndicatorRSI)
	if !ok || rsi.Signal != models.SignalOversold {
		t.Errorf("RSI on a declining series = %+v, want oversold", rsi)
	}
	if len(eval.Missing) != 0 {
		t.Errorf("80 candles should cover every indicator, missing %v", eval.Missing)
	}

	if _, err := f.svc.Evaluate(context.Background(), "  "); !errors.Is(err, apperrors.ErrInputValidation) {
		t.Errorf("blank symbol err = %v", err)
	}
}

func TestEvaluateSeries_ShortHistory(t *testing.T) {
	f := newFixture(t, "")
	eval, err := f.svc.EvaluateSeries(context.Background(), "ACME", declining(10, 100))
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.Indicators) != 0 || len(eval.Missing) != 4 {
		t.Errorf("short series should report all indicators missing: %+v", eval)
	}
}

func TestScreenFundamentals(t *testing.T) {
	f := newFixture(t, "")
	f.static.SetFundamentals("ACME", models.Fundamentals{PERatio: float(12), PriceToBook: float(2.5)})

	flags, err := f.svc.ScreenFundamentals(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(flags) != 2 || !flags[0].Passed || flags[1].Passed {
		t.Errorf("flags = %+v", flags)
	}

	_, err = f.svc.ScreenFundamentals(context.Background(), "GLOBEX")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing fundamentals err = %v", err)
	}
}

func TestPredict_MissingInputsAreNoOpinion(t *testing.T) {
	f := newFixture(t, "")
	f.static.SetFundamentals("ACME", models.Fundamentals{PERatio: float(12)})
	ctx := context.Background()

	// ACME has fundamentals but no sentiment data: sentiment is skipped.
	p, err := f.svc.Predict(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" || p.Symbol != "ACME" || p.Version != 1 || p.Outcome != models.OutcomePending {
		t.Errorf("recorded prediction = %+v", p)
	}
	if len(p.Factors) == 0 || p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
		t.Errorf("factors %d confidence %.2f", len(p.Factors), p.ConfidenceScore)
	}
	if p.AnalysisType != models.AnalysisHybrid {
		t.Errorf("analysis type = %s, want hybrid", p.AnalysisType)
	}
	for _, factor := range p.Factors {
		if factor.Source == models.SourceSentiment {
			t.Error("no sentiment factor expected without sentiment data")
		}
	}

	got, err := f.svc.Get(ctx, p.ID)
	if err != nil || got.ConfidenceScore != p.ConfidenceScore {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if n := len(f.events.Events()); n != 1 {
		t.Errorf("published %d events, want 1", n)
	}
}

func TestPredict_OptionalInputOutageIsReported(t *testing.T) {
	for _, collaborator := range []string{apperrors.CollaboratorFundamentals, apperrors.CollaboratorSentiment} {
		t.Run(collaborator, func(t *testing.T) {
			f := newFailingFixture(t, collaborator, "ACME")
			f.static.SetFundamentals("ACME", models.Fundamentals{PERatio: float(12)})
			f.static.SetSentiment("ACME", models.Sentiment{Score: 0.4})

			_, err := f.svc.Predict(context.Background(), "ACME")
			var up *apperrors.UpstreamError
			if !errors.As(err, &up) || up.Collaborator != collaborator || up.Symbol != "ACME" {
				t.Fatalf("err = %v, want %s UpstreamError", err, collaborator)
			}
			if !errors.Is(err, errRefused) {
				t.Errorf("cause lost: %v", err)
			}
			hist, _ := f.svc.History(context.Background(), ledger.Filter{})
			if len(hist) != 0 {
				t.Errorf("nothing should be recorded, got %d", len(hist))
			}
			if n := len(f.events.Events()); n != 0 {
				t.Errorf("published %d events, want 0", n)
			}
		})
	}
}

func TestPredict_PriceFailureIsFatal(t *testing.T) {
	f := newFixture(t, "ACME")
	_, err := f.svc.Predict(context.Background(), "ACME")
	var up *apperrors.UpstreamError
	if !errors.As(err, &up) || up.Collaborator != apperrors.CollaboratorPrice {
		t.Fatalf("err = %v, want price UpstreamError", err)
	}
	hist, _ := f.svc.History(context.Background(), ledger.Filter{})
	if len(hist) != 0 {
		t.Errorf("nothing should be recorded, got %d", len(hist))
	}
}

func TestPredict_RejectsMalformedSymbol(t *testing.T) {
	f := newFixture(t, "")
	for _, sym := range []string{"", "   ", "ACME;DROP TABLE"} {
		if _, err := f.svc.Predict(context.Background(), sym); !errors.Is(err, apperrors.ErrInputValidation) {
			t.Errorf("Predict(%q) err = %v, want ErrInputValidation", sym, err)
		}
	}
}

func TestPredictFrom_InsufficientSignal(t *testing.T) {
	f := newFixture(t, "")
	// Too short for any indicator and too plain for any pattern.
	flat := make([]models.Candle, 3)
	for i := range flat {
		flat[i] = models.Candle{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}
	}
	_, err := f.svc.PredictFrom(context.Background(), "ACME", flat, nil, nil)
	if !errors.Is(err, apperrors.ErrInsufficientSignal) {
		t.Errorf("err = %v, want ErrInsufficientSignal", err)
	}
	if _, err := f.svc.PredictFrom(context.Background(), "ACME", nil, nil, nil); !errors.Is(err, apperrors.ErrInsufficientData) {
		t.Errorf("empty series err = %v", err)
	}
}

func TestScan_PartialFailure(t *testing.T) {
	f := newFixture(t, "GLOBEX")
	results := f.svc.Scan(context.Background(), []string{"ACME", "GLOBEX", "INITECH"})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	var ok, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			if r.Symbol != "GLOBEX" || !errors.Is(r.Err, apperrors.ErrUpstreamUnavailable) {
				t.Errorf("unexpected failure %s: %v", r.Symbol, r.Err)
			}
		case r.Prediction != nil:
			ok++
		}
	}
	if ok != 2 || failed != 1 {
		t.Errorf("ok=%d failed=%d, want 2 and 1", ok, failed)
	}
	hist, _ := f.svc.History(context.Background(), ledger.Filter{})
	if len(hist) != 2 {
		t.Errorf("ledger holds %d predictions, want 2", len(hist))
	}
}

func TestScan_SentimentOutageIsAnnotated(t *testing.T) {
	f := newFailingFixture(t, apperrors.CollaboratorSentiment, "GLOBEX")
	results := f.svc.Scan(context.Background(), []string{"ACME", "GLOBEX", "INITECH"})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	var ok, failed int
	for _, r := range results {
		if r.Err == nil {
			if r.Prediction == nil {
				t.Errorf("%s has neither prediction nor error", r.Symbol)
			}
			ok++
			continue
		}
		failed++
		var up *apperrors.UpstreamError
		if r.Symbol != "GLOBEX" || r.Prediction != nil || !errors.As(r.Err, &up) || up.Collaborator != apperrors.CollaboratorSentiment {
			t.Errorf("unexpected failure %s: %v", r.Symbol, r.Err)
		}
	}
	if ok != 2 || failed != 1 {
		t.Errorf("ok=%d failed=%d, want 2 and 1", ok, failed)
	}
	hist, _ := f.svc.History(context.Background(), ledger.Filter{Symbol: "GLOBEX"})
	if len(hist) != 0 {
		t.Errorf("GLOBEX should not be recorded, got %d", len(hist))
	}
}

func TestLifecycle_ExecuteVerifyAccuracy(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	p, err := f.svc.Predict(ctx, "ACME")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RecordExecution(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordExecution(ctx, p.ID); !errors.Is(err, apperrors.ErrAlreadyExecuted) {
		t.Errorf("second execution err = %v", err)
	}

	verified, err := f.svc.VerifyPrediction(ctx, p.ID, p.PriceAtPrediction, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !verified.Executed || !verified.IsVerified() {
		t.Errorf("verified prediction = %+v", verified)
	}

	stats, err := f.svc.AccuracyReport(ctx, ledger.Filter{Symbol: "ACME"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	p, err := f.svc.Predict(ctx, "INITECH")
	if err != nil {
		t.Fatal(err)
	}

	results, err := f.svc.VerifyExpired(ctx)
	if err != nil || len(results) != 0 {
		t.Fatalf("nothing has expired yet: %+v, %v", results, err)
	}

	*f.now = p.ExpiresAt.Add(time.Hour)
	results, err = f.svc.VerifyExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Err != nil || !results[0].Prediction.IsVerified() {
		t.Fatalf("results = %+v", results)
	}
	if *results[0].Prediction.RealizedPrice != p.PriceAtPrediction {
		t.Errorf("realized price = %v, want latest close %v", *results[0].Prediction.RealizedPrice, p.PriceAtPrediction)
	}
}
