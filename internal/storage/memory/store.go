// Package memory is the default, non-durable storage.Store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/models"
)

type shard struct {
	mu        sync.Mutex
	profile   *models.UserProfile
	diagnoses []models.SavedDiagnosis
}

// Store shards data by user. The shard index is guarded by an RWMutex and
// each shard by its own mutex, so one user's writes never wait on another's.
type Store struct {
	mu     sync.RWMutex
	shards map[string]*shard
}

func New() *Store {
	return &Store{shards: make(map[string]*shard)}
}

func (s *Store) shard(userID string) *shard {
	s.mu.RLock()
	sh, ok := s.shards[userID]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[userID]; !ok {
		sh = &shard{}
		s.shards[userID] = sh
	}
	return sh
}

func (s *Store) GetOrCreateProfile(ctx context.Context, userID string, def models.UserProfile) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.profile == nil {
		p := def.Clone()
		sh.profile = &p
	}
	out := sh.profile.Clone()
	return &out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, def models.UserProfile, fn func(*models.UserProfile)) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := def.Clone()
	if sh.profile != nil {
		p = sh.profile.Clone()
	}
	fn(&p)
	sh.profile = &p

	out := p.Clone()
	return &out, nil
}

func (s *Store) ListDiagnoses(ctx context.Context, userID string, page storage.Page) ([]models.SavedDiagnosis, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	sh := s.shard(userID)
	sh.mu.Lock()
	all := make([]models.SavedDiagnosis, len(sh.diagnoses))
	for i, d := range sh.diagnoses {
		all[i] = d.Clone()
	}
	sh.mu.Unlock()

	storage.SortNewestFirst(all)
	return storage.Window(all, page), len(all), nil
}

func (s *Store) SaveDiagnosis(ctx context.Context, d models.SavedDiagnosis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(d.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, existing := range sh.diagnoses {
		if existing.ID == d.ID {
			return fmt.Errorf("diagnosis %q: %w", d.ID, storage.ErrDuplicate)
		}
	}
	sh.diagnoses = append(sh.diagnoses, d.Clone())
	return nil
}

func (s *Store) DeleteDiagnosis(ctx context.Context, userID, diagnosisID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for i, d := range sh.diagnoses {
		if d.ID == diagnosisID {
			sh.diagnoses = append(sh.diagnoses[:i], sh.diagnoses[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("diagnosis %q: %w", diagnosisID, storage.ErrNotFound)
}

func (s *Store) Close() error { return nil }
