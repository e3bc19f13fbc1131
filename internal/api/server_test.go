package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"broker-assistant/internal/advisor"
	"broker-assistant/internal/analysis/fundamentals"
	"broker-assistant/internal/analysis/indicators"
	"broker-assistant/internal/analysis/patterns"
	"broker-assistant/internal/analysis/scoring"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/providers"
	"broker-assistant/internal/resilience"
	"broker-assistant/internal/store"
	"broker-assistant/pkg/utils"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []FieldError    `json:"errors"`
}

func rising(n int) []models.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		c := 50 + float64(i)*0.7
		out[i] = models.Candle{Timestamp: start.AddDate(0, 0, i), Open: c - 0.3, High: c + 0.6, Low: c - 0.6, Close: c, Volume: 500}
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *resilience.Registry) {
	t.Helper()
	static := providers.NewStaticProvider()
	static.SetCandles("ACME", rising(80))
	pe := 11.0
	static.SetFundamentals("ACME", models.Fundamentals{PERatio: &pe})

	rec := metrics.New()
	reg := resilience.NewRegistry(resilience.DefaultBreakerConfig(), providers.IsNotFound)
	retry := utils.RetryConfig{MaxAttempts: 1}
	svc := advisor.NewService(advisor.Components{
		Provider:   providers.NewGuarded(static, reg, retry, rec, zerolog.Nop()),
		Evaluator:  indicators.NewEvaluator(indicators.DefaultEvaluatorConfig()),
		Detector:   patterns.NewDetector(patterns.DefaultConfig(), zerolog.Nop()),
		Thresholds: fundamentals.DefaultThresholds(),
		Aggregator: scoring.NewAggregator(scoring.DefaultWeights(), scoring.DefaultConfig()),
		Ledger:     ledger.New(store.NewMemoryStore(), ledger.DefaultConfig(), zerolog.Nop(), ledger.WithMetrics(rec)),
		Metrics:    rec,
	}, advisor.Settings{}, zerolog.Nop())
	return NewServer(svc, Config{}, rec, reg, zerolog.Nop()), reg
}

func do(t *testing.T, s *Server, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: bad body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func TestPredictionLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := do(t, s, http.MethodPost, "/api/analysis/predict/acme", "")
	if code != http.StatusCreated {
		t.Fatalf("predict status = %d, errors %+v", code, env.Errors)
	}
	var p models.Prediction
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.ID == "" || p.Symbol != "ACME" || len(p.Factors) == 0 {
		t.Fatalf("prediction = %+v", p)
	}

	code, _ = do(t, s, http.MethodGet, "/api/analysis/predictions/"+p.ID, "")
	if code != http.StatusOK {
		t.Errorf("get status = %d", code)
	}

	code, _ = do(t, s, http.MethodPost, "/api/analysis/predictions/"+p.ID+"/execute", "")
	if code != http.StatusOK {
		t.Errorf("execute status = %d", code)
	}
	code, env = do(t, s, http.MethodPost, "/api/analysis/predictions/"+p.ID+"/execute", "")
	if code != http.StatusConflict || len(env.Errors) != 1 || env.Errors[0].Code != "ERR_ALREADY_EXECUTED" {
		t.Errorf("second execute = %d %+v", code, env.Errors)
	}

	code, _ = do(t, s, http.MethodPost, "/api/analysis/predictions/"+p.ID+"/verify", `{"realized_price": 120}`)
	if code != http.StatusOK {
		t.Errorf("verify status = %d", code)
	}
	code, _ = do(t, s, http.MethodPost, "/api/analysis/predictions/"+p.ID+"/verify", `{"realized_price": 120}`)
	if code != http.StatusConflict {
		t.Errorf("second verify status = %d, want 409", code)
	}

	code, env = do(t, s, http.MethodGet, "/api/analysis/accuracy?symbol=ACME", "")
	if code != http.StatusOK {
		t.Fatalf("accuracy status = %d", code)
	}
	var stats models.AccuracyStats
	json.Unmarshal(env.Data, &stats)
	if stats.Total != 1 {
		t.Errorf("accuracy total = %d, want 1", stats.Total)
	}

	code, env = do(t, s, http.MethodGet, "/api/analysis/predictions?symbol=ACME&limit=10", "")
	var list []models.Prediction
	json.Unmarshal(env.Data, &list)
	if code != http.StatusOK || len(list) != 1 {
		t.Errorf("list = %d with %d items", code, len(list))
	}
}

func TestErrorMapping(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown prediction", http.MethodGet, "/api/analysis/predictions/nope", "", http.StatusNotFound},
		{"unknown symbol", http.MethodPost, "/api/analysis/predict/GLOBEX", "", http.StatusNotFound},
		{"missing price", http.MethodPost, "/api/analysis/predictions/abc/verify", `{}`, http.StatusBadRequest},
		{"bad signal filter", http.MethodGet, "/api/analysis/predictions?signal_type=MAYBE", "", http.StatusBadRequest},
		{"bad from", http.MethodGet, "/api/analysis/accuracy?from=yesterday", "", http.StatusBadRequest},
		{"empty scan", http.MethodPost, "/api/analysis/scan", `{"symbols": []}`, http.StatusBadRequest},
		{"no signal", http.MethodPost, "/api/analysis/predict/ACME", `{"candles": [{"open": 100, "high": 101, "low": 99, "close": 100.5, "volume": 1}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, s, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (errors %+v)", code, tt.want, env.Errors)
			}
			if len(env.Errors) == 0 {
				t.Error("error responses must list errors")
			}
		})
	}
}

func TestTechnicalAndScreen(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := do(t, s, http.MethodPost, "/api/analysis/technical/ACME", "")
	if code != http.StatusOK {
		t.Fatalf("technical status = %d", code)
	}
	var eval advisor.Evaluation
	json.Unmarshal(env.Data, &eval)
	if eval.Candles != 80 || len(eval.Indicators) != 4 {
		t.Errorf("evaluation = %+v", eval)
	}

	code, env = do(t, s, http.MethodPost, "/api/analysis/fundamental/screen", `{"symbol": "ACME"}`)
	var flags []models.FundamentalFlag
	json.Unmarshal(env.Data, &flags)
	if code != http.StatusOK || len(flags) != 1 || !flags[0].Passed {
		t.Errorf("screen = %d %+v", code, flags)
	}

	code, env = do(t, s, http.MethodPost, "/api/analysis/fundamental/screen", `{"symbol": "X", "metrics": {"pe_ratio": 35, "dividend_yield": 4}}`)
	flags = nil
	json.Unmarshal(env.Data, &flags)
	if code != http.StatusOK || len(flags) != 2 || flags[0].Passed || !flags[1].Passed {
		t.Errorf("inline screen = %d %+v", code, flags)
	}
}

func TestScanPartialResults(t *testing.T) {
	s, _ := newTestServer(t)
	code, env := do(t, s, http.MethodPost, "/api/analysis/scan", `{"symbols": ["ACME", "GLOBEX"]}`)
	if code != http.StatusOK {
		t.Fatalf("scan status = %d", code)
	}
	var resp struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Results   []struct {
			Symbol string `json:"symbol"`
			Error  string `json:"error"`
		} `json:"results"`
	}
	json.Unmarshal(env.Data, &resp)
	if resp.Succeeded != 1 || resp.Failed != 1 || len(resp.Results) != 2 {
		t.Fatalf("scan response = %+v", resp)
	}
	if resp.Results[1].Symbol != "GLOBEX" || resp.Results[1].Error == "" {
		t.Errorf("GLOBEX should carry its error: %+v", resp.Results[1])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, reg := newTestServer(t)
	code, _ := do(t, s, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Errorf("health = %d", code)
	}

	cb := reg.Get("price")
	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	}
	code, _ = do(t, s, http.MethodGet, "/health", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("health with open breaker = %d, want 503", code)
	}

	do(t, s, http.MethodPost, "/api/analysis/predict/ACME", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "assistant_provider_requests_total") {
		t.Errorf("metrics endpoint missing provider counters")
	}
}
