package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// newStores returns one store per backend, each closed at test end.
func newStores(t *testing.T) map[string]PredictionStore {
	t.Helper()
	sqlStore, err := NewSQLStore(Config{
		Driver:       DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "predictions.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	stores := map[string]PredictionStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func samplePrediction(id, symbol string, createdAt time.Time, signal models.SignalType) *models.Prediction {
	return &models.Prediction{
		ID:              id,
		Symbol:          symbol,
		CreatedAt:       createdAt.UTC(),
		SignalType:      signal,
		ConfidenceScore: 0.78,
		Factors: []models.ContributingFactor{
			{Name: "RSI", Description: "RSI(14) at 25.00 is oversold", Weight: 0.25, Source: models.SourceTechnical, Direction: models.DirectionBullish, Value: 25},
			{Name: "pe_ratio", Description: "pe_ratio 35.00 fails", Weight: 0.05, Source: models.SourceFundamental, Direction: models.DirectionBearish, Value: 35},
		},
		BullishWeight:     0.25,
		BearishWeight:     0.05,
		PriceAtPrediction: 100,
		TargetPrice:       105,
		StopLoss:          97,
		TimeHorizon:       models.HorizonMedium,
		ExpiresAt:         createdAt.UTC().Add(models.HorizonMedium.Duration()),
		MarketCondition:   models.MarketBullish,
		AnalysisType:      models.AnalysisHybrid,
		ModelVersion:      "1.0",
		Outcome:           models.OutcomePending,
		Version:           1,
	}
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			want := samplePrediction("p-1", "ACME", created, models.SignalBuy)
			if err := s.Create(ctx, want); err != nil {
				t.Fatal(err)
			}
			if err := s.Create(ctx, want); err == nil {
				t.Error("duplicate id should be rejected")
			}

			got, err := s.Get(ctx, "p-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Symbol != want.Symbol || got.SignalType != want.SignalType || got.ConfidenceScore != want.ConfidenceScore {
				t.Errorf("got %+v", got)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
				t.Errorf("times: created %v expires %v", got.CreatedAt, got.ExpiresAt)
			}
			if len(got.Factors) != 2 || got.Factors[0] != want.Factors[0] || got.Factors[1] != want.Factors[1] {
				t.Errorf("factors = %+v", got.Factors)
			}
			if got.Executed || got.ExecutedAt != nil || got.RealizedPrice != nil || got.VerifiedAt != nil {
				t.Errorf("mutable fields should be unset: %+v", got)
			}

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_UpdateWithVersion(t *testing.T) {
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			p := samplePrediction("p-2", "ACME", time.Now(), models.SignalSell)
			if err := s.Create(ctx, p); err != nil {
				t.Fatal(err)
			}

			now := time.Now().UTC().Truncate(time.Second)
			p.Executed = true
			p.ExecutedAt = &now
			if err := s.Update(ctx, p, 1); err != nil {
				t.Fatal(err)
			}
			if p.Version != 2 {
				t.Errorf("version = %d, want 2", p.Version)
			}

			stale := p.Clone()
			price := 90.0
			stale.RealizedPrice = &price
			if err := s.Update(ctx, stale, 1); !errors.Is(err, apperrors.ErrVersionConflict) {
				t.Errorf("err = %v, want ErrVersionConflict", err)
			}

			got, err := s.Get(ctx, "p-2")
			if err != nil {
				t.Fatal(err)
			}
			if !got.Executed || got.ExecutedAt == nil || !got.ExecutedAt.Equal(now) || got.RealizedPrice != nil || got.Version != 2 {
				t.Errorf("got %+v", got)
			}

			ghost := samplePrediction("ghost", "ACME", time.Now(), models.SignalBuy)
			if err := s.Update(ctx, ghost, 1); !errors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 6; i++ {
				symbol := "ACME"
				if i%2 == 1 {
					symbol = "GLOBEX"
				}
				signal := models.SignalBuy
				if i >= 4 {
					signal = models.SignalHold
				}
				p := samplePrediction(fmt.Sprintf("p-%d", i), symbol, base.Add(time.Duration(i)*24*time.Hour), signal)
				if i == 0 {
					p.Outcome = models.OutcomeCorrect
				}
				if err := s.Create(ctx, p); err != nil {
					t.Fatal(err)
				}
			}

			all, err := s.Query(ctx, PredictionFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 6 || all[0].ID != "p-5" || all[5].ID != "p-0" {
				t.Fatalf("expected newest first, got %d starting %s", len(all), all[0].ID)
			}

			tests := []struct {
				name   string
				filter PredictionFilter
				want   int
			}{
				{"symbol", PredictionFilter{Symbol: "ACME"}, 3},
				{"signal", PredictionFilter{SignalType: models.SignalHold}, 2},
				{"date range", PredictionFilter{From: base.Add(24 * time.Hour), To: base.Add(3 * 24 * time.Hour)}, 3},
				{"verified only", PredictionFilter{VerifiedOnly: true}, 1},
				{"pending", PredictionFilter{Outcome: models.OutcomePending}, 5},
				{"limit", PredictionFilter{Limit: 2}, 2},
				{"expired", PredictionFilter{ExpiresBefore: base.Add(32 * 24 * time.Hour)}, 2},
			}
			for _, tt := range tests {
				got, err := s.Query(ctx, tt.filter)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != tt.want {
					t.Errorf("%s: got %d, want %d", tt.name, len(got), tt.want)
				}
			}
		})
	}
}

func TestMemoryStore_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := samplePrediction("p-c", "ACME", time.Now(), models.SignalBuy)
	if err := s.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := p.Clone()
			c.Executed = true
			if err := s.Update(ctx, c, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("%d writers succeeded at the same version, want 1", wins)
	}
}

func TestProperty_SQLRoundTrip(t *testing.T) {
	s, err := NewSQLStore(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "prop.db"), MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	ctx := context.Background()
	n := 0

	properties.Property("stored predictions read back unchanged", prop.ForAll(
		func(confidence, price float64, signal models.SignalType) bool {
			n++
			p := samplePrediction(fmt.Sprintf("prop-%d", n), "ACME", time.Now().Truncate(time.Millisecond), signal)
			p.ConfidenceScore = confidence
			p.PriceAtPrediction = price
			if err := s.Create(ctx, p); err != nil {
				t.Logf("create: %v", err)
				return false
			}
			got, err := s.Get(ctx, p.ID)
			if err != nil {
				return false
			}
			return got.ConfidenceScore == confidence &&
				got.PriceAtPrediction == price &&
				got.SignalType == signal &&
				got.CreatedAt.Equal(p.CreatedAt) &&
				len(got.Factors) == len(p.Factors)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 100000),
		gen.OneConstOf(models.SignalBuy, models.SignalSell, models.SignalHold),
	))

	properties.TestingRun(t)
}
