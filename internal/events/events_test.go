package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"broker-assistant/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w, topic: "predictions"}

	p := &models.Prediction{ID: "p-1", Symbol: "ACME", SignalType: models.SignalBuy, ConfidenceScore: 0.8}
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := pub.Publish(context.Background(), NewEvent(PredictionRecorded, p, at)); err != nil {
		t.Fatal(err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("got %d messages", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "ACME" {
		t.Errorf("key = %s, want symbol", msg.Key)
	}
	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != PredictionRecorded || got.Prediction.ID != "p-1" || !got.OccurredAt.Equal(at) {
		t.Errorf("decoded %+v", got)
	}
	if string(msg.Headers[0].Value) != string(PredictionRecorded) {
		t.Errorf("event_type header = %s", msg.Headers[0].Value)
	}
}

func TestKafkaPublisher_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	pub := &KafkaPublisher{writer: w, topic: "predictions"}

	if err := pub.Publish(context.Background(), Event{Type: PredictionExecuted}); err == nil {
		t.Error("event without prediction should fail")
	}
	p := &models.Prediction{ID: "p-1", Symbol: "ACME"}
	if err := pub.Publish(context.Background(), NewEvent(PredictionExecuted, p, time.Now())); err == nil {
		t.Error("writer error should propagate")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{}); err == nil {
		t.Error("missing brokers should fail")
	}
}

func TestNewEvent_Snapshots(t *testing.T) {
	p := &models.Prediction{ID: "p-1", Symbol: "ACME"}
	e := NewEvent(PredictionVerified, p, time.Now())
	p.Symbol = "CHANGED"
	if e.Prediction.Symbol != "ACME" {
		t.Error("event should hold a copy of the prediction")
	}

	m := NewMemory()
	m.Publish(context.Background(), e)
	if got := m.Events(); len(got) != 1 || got[0].Type != PredictionVerified {
		t.Errorf("memory publisher recorded %+v", got)
	}
}

func TestAuditPublisher_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "ledger.log")
	pub, err := Open(Config{Backend: BackendAudit, Audit: AuditConfig{Path: path, MaxSize: 1}})
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &models.Prediction{ID: "p-1", Symbol: "ACME", SignalType: models.SignalSell}
			if err := pub.Publish(context.Background(), NewEvent(PredictionVerified, p, at)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	var rec struct {
		Type       EventType         `json:"type"`
		SessionID  string            `json:"session_id"`
		Prediction models.Prediction `json:"prediction"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec.Type != PredictionVerified || rec.SessionID == "" || rec.Prediction.Symbol != "ACME" {
		t.Errorf("record = %+v", rec)
	}
}

func TestOpen_AuditNeedsPath(t *testing.T) {
	if _, err := Open(Config{Backend: BackendAudit}); err == nil {
		t.Error("audit backend without a path should fail")
	}
	pub, err := Open(Config{Backend: BackendNone})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Errorf("none backend = %T, want Nop", pub)
	}
}
