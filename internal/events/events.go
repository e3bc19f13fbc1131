// Package events publishes ledger changes to downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"broker-assistant/internal/models"
)

// EventType names a ledger change.
type EventType string

const (
	PredictionRecorded EventType = "prediction.recorded"
	PredictionExecuted EventType = "prediction.executed"
	PredictionVerified EventType = "prediction.verified"
)

// Event describes one ledger change. Prediction is a snapshot taken after
// the change was stored.
type Event struct {
	Type       EventType          `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Prediction *models.Prediction `json:"prediction"`
}

// NewEvent snapshots p into an event.
func NewEvent(t EventType, p *models.Prediction, at time.Time) Event {
	return Event{Type: t, OccurredAt: at.UTC(), Prediction: p.Clone()}
}

// Publisher delivers events. Delivery is best effort: callers log failures
// and carry on, the ledger remains the source of truth.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps published events in order. It is used by tests and by the
// CLI when no broker is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Close() error { return nil }

// Event backends.
const (
	BackendNone  = "none"
	BackendKafka = "kafka"
	BackendAudit = "audit"
)

// Config selects the event backend.
type Config struct {
	Backend string      `mapstructure:"backend" default:"none" validate:"oneof=none kafka audit"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
	Audit   AuditConfig `mapstructure:"audit"`
}

// Open returns the publisher selected by cfg.
func Open(cfg Config) (Publisher, error) {
	switch cfg.Backend {
	case BackendKafka:
		return NewKafkaPublisher(cfg.Kafka)
	case BackendAudit:
		return NewAuditPublisher(cfg.Audit)
	default:
		return Nop{}, nil
	}
}
