package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broker-assistant/internal/cache"
	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/resilience"
	"broker-assistant/pkg/utils"
)

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

// flaky fails the first n calls of every method, then delegates.
type flaky struct {
	*StaticProvider
	failures int32
	calls    atomic.Int32
}

func (f *flaky) Candles(ctx context.Context, symbol string, lookback int) ([]models.Candle, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.StaticProvider.Candles(ctx, symbol, lookback)
}

func (f *flaky) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	f.calls.Add(1)
	return f.StaticProvider.Fundamentals(ctx, symbol)
}

func series(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Candle{Timestamp: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider()
	p.SetCandles("acme", series(10))
	p.SetSentiment("ACME", models.Sentiment{Score: 3})

	got, err := p.Candles(ctx, " Acme ", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[3].Close != 109 {
		t.Errorf("lookback should keep the latest 4 candles, got %+v", got)
	}

	s, err := p.Sentiment(ctx, "ACME", time.Hour)
	if err != nil || s.Score != 1 {
		t.Errorf("sentiment = %+v, %v; want score clamped to 1", s, err)
	}

	if _, err := p.Fundamentals(ctx, "ACME"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing fundamentals err = %v, want ErrNotFound", err)
	}
	if _, err := p.Candles(ctx, "NOPE", 10); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown symbol err = %v, want ErrNotFound", err)
	}
}

func TestLoadStaticProvider_WithCSV(t *testing.T) {
	dir := t.TempDir()
	csv := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02,10,11,9,10.5,100\n" +
		"2026-01-03T00:00:00Z,10.5,12,10,11.5,200\n"
	if err := os.WriteFile(filepath.Join(dir, "acme.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	fixture := `{"symbols": {
		"ACME": {"candles_csv": "acme.csv", "fundamentals": {"pe_ratio": 12.5}, "sentiment": {"score": -0.4}},
		"GLOBEX": {"candles": [{"open": 1, "high": 2, "low": 0.5, "close": 1.5, "volume": 10}]}
	}}`
	path := filepath.Join(dir, "fixture.json")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(Config{Source: SourceStatic, FixturePath: path})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	candles, err := p.Candles(ctx, "ACME", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 || candles[1].Close != 11.5 || candles[1].Volume != 200 {
		t.Errorf("csv candles = %+v", candles)
	}
	if !candles[0].Timestamp.Before(candles[1].Timestamp) {
		t.Error("candles should keep file order")
	}
	f, err := p.Fundamentals(ctx, "acme")
	if err != nil || f.PERatio == nil || *f.PERatio != 12.5 || f.Symbol != "ACME" {
		t.Errorf("fundamentals = %+v, %v", f, err)
	}
	if g, err := p.Candles(ctx, "GLOBEX", 0); err != nil || len(g) != 1 {
		t.Errorf("inline candles = %+v, %v", g, err)
	}
}

func TestReadCandlesCSV_BadTimestamp(t *testing.T) {
	_, err := ReadCandlesCSV(strings.NewReader("timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"))
	if err == nil {
		t.Fatal("expected timestamp error")
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/candles/ACME":
			if r.URL.Query().Get("lookback") != "2" {
				t.Errorf("lookback query = %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"candles":[{"close":1},{"close":2},{"close":3}]}`))
		case "/v1/sentiment/ACME":
			if r.URL.Query().Get("window_hours") != "72" {
				t.Errorf("window query = %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"score":-2.5,"articles":4}`))
		case "/v1/fundamentals/ACME":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL+"/", "secret", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	candles, err := p.Candles(ctx, "acme", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 || candles[1].Close != 3 {
		t.Errorf("candles = %+v", candles)
	}

	s, err := p.Sentiment(ctx, "ACME", 72*time.Hour)
	if err != nil || s.Score != -1 || s.Articles != 4 || s.Symbol != "ACME" {
		t.Errorf("sentiment = %+v, %v", s, err)
	}

	if _, err := p.Fundamentals(ctx, "ACME"); err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("fundamentals err = %v, want status 502", err)
	}
	if _, err := p.Candles(ctx, "NOPE", 2); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("404 err = %v, want ErrNotFound", err)
	}

	if _, err := NewHTTPProvider("", "", 0); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("empty base URL err = %v", err)
	}
}

func TestGuarded_RetriesTransientFailures(t *testing.T) {
	static := NewStaticProvider()
	static.SetCandles("ACME", series(5))
	inner := &flaky{StaticProvider: static, failures: 2}
	rec := metrics.New()
	g := NewGuarded(inner, nil, fastRetry(), rec, zerolog.Nop())

	candles, err := g.Candles(context.Background(), "ACME", 5)
	if err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	if len(candles) != 5 || inner.calls.Load() != 3 {
		t.Errorf("candles %d calls %d", len(candles), inner.calls.Load())
	}
}

func TestGuarded_WrapsFailures(t *testing.T) {
	static := NewStaticProvider()
	inner := &flaky{StaticProvider: static, failures: 100}
	g := NewGuarded(inner, nil, fastRetry(), nil, zerolog.Nop())

	_, err := g.Candles(context.Background(), "ACME", 5)
	var up *apperrors.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if up.Collaborator != apperrors.CollaboratorPrice || up.Symbol != "ACME" {
		t.Errorf("upstream error = %+v", up)
	}
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Error("should match ErrUpstreamUnavailable")
	}
}

func TestGuarded_NotFoundIsNotRetried(t *testing.T) {
	inner := &flaky{StaticProvider: NewStaticProvider()}
	g := NewGuarded(inner, nil, fastRetry(), nil, zerolog.Nop())

	_, err := g.Fundamentals(context.Background(), "ACME")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound in chain", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", inner.calls.Load())
	}
	if s := g.Breakers().Get(apperrors.CollaboratorFundamentals).State(); s != resilience.CircuitClosed {
		t.Errorf("not-found answers should not trip the breaker, state %s", s)
	}
}

func TestGuarded_OpenCircuitFailsFast(t *testing.T) {
	inner := &flaky{StaticProvider: NewStaticProvider(), failures: 100}
	reg := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour}, IsNotFound)
	g := NewGuarded(inner, reg, utils.RetryConfig{MaxAttempts: 1}, nil, zerolog.Nop())

	for i := 0; i < 2; i++ {
		g.Candles(context.Background(), "ACME", 5)
	}
	before := inner.calls.Load()
	_, err := g.Candles(context.Background(), "ACME", 5)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.calls.Load() != before {
		t.Error("open circuit should not reach the provider")
	}
	if reg.Healthy() {
		t.Error("registry should report unhealthy")
	}
}

func TestCached_ServesRepeatReads(t *testing.T) {
	static := NewStaticProvider()
	pe := 14.0
	static.SetFundamentals("ACME", models.Fundamentals{PERatio: &pe})
	inner := &flaky{StaticProvider: static}
	p := NewCached(inner, cache.NewMemoryCache(), cache.Config{FundamentalsTTL: time.Minute, SentimentTTL: time.Minute}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		f, err := p.Fundamentals(context.Background(), "ACME")
		if err != nil || f.PERatio == nil || *f.PERatio != 14 {
			t.Fatalf("read %d: %+v, %v", i, f, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}

	if _, err := p.Fundamentals(context.Background(), "GLOBEX"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("miss err = %v", err)
	}

	if NewCached(inner, nil, cache.Config{}, zerolog.Nop()) != Provider(inner) {
		t.Error("nil cache should return the inner provider")
	}
}

func TestValidSymbol(t *testing.T) {
	for sym, want := range map[string]bool{
		"ACME":                      true,
		"BRK.B":                     true,
		"M&M":                       true,
		"BAJAJ-AUTO":                true,
		"":                          false,
		"AC ME":                     false,
		"ACME;DROP":                 false,
		"ABCDEFGHIJKLMNOPQRSTUVWXY": false,
	} {
		if got := ValidSymbol(NormalizeSymbol(sym)); got != want {
			t.Errorf("ValidSymbol(%q) = %v, want %v", sym, got, want)
		}
	}
}
