// Package confirm stores operator decisions that unblock a follow pass when
// the consistency validator cannot pick a safe policy on its own.
package confirm

import (
	"context"
	"sync"
	"time"

	"agent-follower/internal/errors"
	"agent-follower/internal/models"
)

// DefaultTTL is how long a confirmation stays usable.
const DefaultTTL = 5 * time.Minute

// Store keeps at most one confirmation per agent.
type Store interface {
	Set(ctx context.Context, agentID string, action models.ConfirmationAction) error
	Get(ctx context.Context, agentID string) (*models.ConfirmationRecord, error)
	HasRecent(ctx context.Context, agentID string) (bool, error)
	Clear(ctx context.Context, agentID string) error
}

// ParseAction validates an operator supplied action.
func ParseAction(s string) (models.ConfirmationAction, error) {
	switch a := models.ConfirmationAction(s); a {
	case models.ConfirmTrustActual, models.ConfirmRebuildHistory, models.ConfirmAbort:
		return a, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidConfirmation, "%q", s)
}

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.ConfirmationRecord
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryStore creates an in-memory store. A zero ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		records: make(map[string]models.ConfirmationRecord),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Set records the action for the agent, replacing any previous one.
func (s *MemoryStore) Set(ctx context.Context, agentID string, action models.ConfirmationAction) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[agentID] = models.ConfirmationRecord{
		AgentID:   agentID,
		Action:    action,
		Timestamp: s.clock(),
	}
	return nil
}

// Get returns the agent's confirmation if it has not expired.
// Expired records are evicted and reported as ErrConfirmationNotFound.
func (s *MemoryStore) Get(ctx context.Context, agentID string) (*models.ConfirmationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[agentID]
	if !ok {
		return nil, errors.ErrConfirmationNotFound
	}
	if s.clock().Sub(rec.Timestamp) > s.ttl {
		delete(s.records, agentID)
		return nil, errors.ErrConfirmationNotFound
	}
	return &rec, nil
}

// HasRecent reports whether an unexpired confirmation exists.
func (s *MemoryStore) HasRecent(ctx context.Context, agentID string) (bool, error) {
	_, err := s.Get(ctx, agentID)
	if errors.Is(err, errors.ErrConfirmationNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Clear removes the agent's confirmation.
func (s *MemoryStore) Clear(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, agentID)
	return nil
}
