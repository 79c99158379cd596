package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"agent-follower/internal/errors"
	"agent-follower/internal/models"
)

const confirmationBucket = "confirmations"

// BoltStore persists confirmations so that a decision given from one CLI
// invocation is visible to the next follow pass.
type BoltStore struct {
	db    *bolt.DB
	ttl   time.Duration
	clock func() time.Time
}

// OpenBoltStore opens (or creates) the store at path.
func OpenBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir confirmation store path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open confirmation store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(confirmationBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db, ttl: ttl, clock: time.Now}, nil
}

// WithClock replaces the time source.
func (s *BoltStore) WithClock(clock func() time.Time) *BoltStore {
	s.clock = clock
	return s
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Set records the action for the agent, replacing any previous one.
func (s *BoltStore) Set(ctx context.Context, agentID string, action models.ConfirmationAction) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}
	rec := models.ConfirmationRecord{
		AgentID:   agentID,
		Action:    action,
		Timestamp: s.clock(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(confirmationBucket)).Put([]byte(agentID), data)
	})
}

// Get returns the agent's confirmation if it has not expired.
func (s *BoltStore) Get(ctx context.Context, agentID string) (*models.ConfirmationRecord, error) {
	var rec *models.ConfirmationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(confirmationBucket)).Get([]byte(agentID))
		if len(data) == 0 {
			return nil
		}
		var r models.ConfirmationRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode confirmation: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.ErrConfirmationNotFound
	}
	if s.clock().Sub(rec.Timestamp) > s.ttl {
		if err := s.Clear(ctx, agentID); err != nil {
			return nil, err
		}
		return nil, errors.ErrConfirmationNotFound
	}
	return rec, nil
}

// HasRecent reports whether an unexpired confirmation exists.
func (s *BoltStore) HasRecent(ctx context.Context, agentID string) (bool, error) {
	_, err := s.Get(ctx, agentID)
	if errors.Is(err, errors.ErrConfirmationNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Clear removes the agent's confirmation.
func (s *BoltStore) Clear(ctx context.Context, agentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(confirmationBucket)).Delete([]byte(agentID))
	})
}
