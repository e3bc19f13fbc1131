// Package store provides prediction persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"broker-assistant/internal/models"
)

// PredictionStore persists ledger entries. Implementations must be safe for
// concurrent use and must never delete a stored prediction.
type PredictionStore interface {
	// Create stores a new prediction. The ID must be unique.
	Create(ctx context.Context, p *models.Prediction) error
	// Get returns a copy of the prediction or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Prediction, error)
	// Update replaces the mutable fields of a prediction if its stored
	// version equals expectedVersion, and advances p.Version on success.
	// It returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, p *models.Prediction, expectedVersion int) error
	// Query returns predictions matching the filter, newest first.
	Query(ctx context.Context, filter PredictionFilter) ([]*models.Prediction, error)

	Close() error
}

// PredictionFilter selects predictions. Zero values do not filter.
type PredictionFilter struct {
	Symbol        string
	From          time.Time
	To            time.Time
	SignalType    models.SignalType
	Outcome       models.Outcome
	Executed      *bool
	VerifiedOnly  bool
	ExpiresBefore time.Time
	Limit         int
}

// Match reports whether p satisfies the filter, ignoring Limit.
func (f PredictionFilter) Match(p *models.Prediction) bool {
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && p.CreatedAt.After(f.To) {
		return false
	}
	if f.SignalType != "" && p.SignalType != f.SignalType {
		return false
	}
	if f.Outcome != "" && p.Outcome != f.Outcome {
		return false
	}
	if f.Executed != nil && p.Executed != *f.Executed {
		return false
	}
	if f.VerifiedOnly && !p.IsVerified() {
		return false
	}
	if !f.ExpiresBefore.IsZero() && !p.ExpiresAt.Before(f.ExpiresBefore) {
		return false
	}
	return true
}

// Config selects and tunes the storage backend.
type Config struct {
	Driver          string        `mapstructure:"driver" default:"sqlite3" validate:"oneof=memory sqlite3 postgres"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" default:"10" validate:"min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" default:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" default:"1h"`
}

// Open returns the store selected by cfg.Driver.
func Open(cfg Config) (PredictionStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres:
		return NewSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
