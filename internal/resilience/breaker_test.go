package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errNotFound = errors.New("not found")

func TestCircuitBreaker_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("price", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil)
	cb.now = func() time.Time { return now }
	ctx := context.Background()
	boom := errors.New("boom")

	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}
	if err := cb.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open circuit should reject, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("probe after timeout: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED after successful probe", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalRequests != 4 || stats.TotalFailures != 2 || stats.TotalRejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	cb := NewCircuitBreaker("fundamentals", BreakerConfig{FailureThreshold: 1}, func(err error) bool {
		return errors.Is(err, errNotFound)
	})

	v, err := Execute(context.Background(), cb, func(context.Context) (int, error) { return 0, errNotFound })
	if !errors.Is(err, errNotFound) || v != 0 {
		t.Errorf("got %d, %v", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Error("ignored errors must not open the circuit")
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("price", DefaultBreakerConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v called = %v", err, called)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, nil)
	if r.Get("price") != r.Get("price") {
		t.Error("registry should reuse breakers")
	}
	r.Get("sentiment")
	if !r.Healthy() {
		t.Error("fresh breakers are healthy")
	}

	r.Get("price").Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	if r.Healthy() {
		t.Error("open breaker should make the registry unhealthy")
	}
	stats := r.Stats()
	if len(stats) != 2 || stats[0].Name != "price" || stats[0].State != CircuitOpen {
		t.Errorf("stats = %+v", stats)
	}
}
