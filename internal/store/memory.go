package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// MemoryStore keeps predictions in a map. Values are cloned on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	predictions map[string]*models.Prediction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{predictions: make(map[string]*models.Prediction)}
}

func (s *MemoryStore) Create(ctx context.Context, p *models.Prediction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.predictions[p.ID]; exists {
		return fmt.Errorf("prediction %s already exists", p.ID)
	}
	s.predictions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, fmt.Errorf("prediction %s: %w", id, apperrors.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, p *models.Prediction, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.predictions[p.ID]
	if !ok {
		return fmt.Errorf("prediction %s: %w", p.ID, apperrors.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("prediction %s at version %d, expected %d: %w", p.ID, cur.Version, expectedVersion, apperrors.ErrVersionConflict)
	}

	next := cur.Clone()
	next.Executed = p.Executed
	next.ExecutedAt = p.ExecutedAt
	next.Outcome = p.Outcome
	next.RealizedPrice = p.RealizedPrice
	next.VerifiedAt = p.VerifiedAt
	next.Version = expectedVersion + 1
	s.predictions[p.ID] = next.Clone()
	p.Version = next.Version
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter PredictionFilter) ([]*models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []*models.Prediction
	for _, p := range s.predictions {
		if filter.Match(p) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
