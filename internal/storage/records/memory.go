// Package records stores deposit records.
package records

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// MemoryStore keeps records in a map. It rolls back with ledger units when registered
// as a participant.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.Identity]*domain.DepositRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.Identity]*domain.DepositRecord)}
}

func (s *MemoryStore) Create(_ context.Context, r *domain.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; ok {
		return errors.Wrapf(domain.ErrRecordExists, "record %s", r.ID.Short())
	}
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.Identity) (*domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrRecordNotFound, "record %s", id.Short())
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, r *domain.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; !ok {
		return errors.Wrapf(domain.ErrRecordNotFound, "record %s", r.ID.Short())
	}
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return errors.Wrapf(domain.ErrRecordNotFound, "record %s", id.Short())
	}
	delete(s.records, id)
	return nil
}

// List returns records ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]*domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DepositRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) ListBySchedule(ctx context.Context, schedule domain.Schedule) ([]*domain.DepositRecord, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Schedule == schedule {
			out = append(out, r)
		}
	}
	return out, nil
}

// Checkpoint implements ledger.Participant.
func (s *MemoryStore) Checkpoint() func() {
	s.mu.RLock()
	saved := make(map[domain.Identity]*domain.DepositRecord, len(s.records))
	for id, r := range s.records {
		saved[id] = r.Clone()
	}
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		s.records = saved
		s.mu.Unlock()
	}
}

func sortRecords(rs []*domain.DepositRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}
