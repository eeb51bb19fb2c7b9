package fragment

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

// Store holds fragments keyed by id. Put is idempotent: a fragment whose id
// is already stored is ignored, never overwritten.
type Store interface {
	Put(ctx context.Context, fragments ...common.Fragment) (added int, err error)
	Get(ctx context.Context, id string) (common.Fragment, bool, error)
	// All returns every fragment ordered by source then position.
	All(ctx context.Context) ([]common.Fragment, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]common.Fragment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]common.Fragment)}
}

func (s *MemoryStore) Put(_ context.Context, fragments ...common.Fragment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range fragments {
		if _, ok := s.byID[f.ID]; ok {
			continue
		}
		f.Concepts = slices.Clone(f.Concepts)
		s.byID[f.ID] = f
		added++
	}
	return added, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (common.Fragment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	return f, ok, nil
}

func (s *MemoryStore) All(_ context.Context) ([]common.Fragment, error) {
	s.mu.RLock()
	out := make([]common.Fragment, 0, len(s.byID))
	for _, f := range s.byID {
		out = append(out, f)
	}
	s.mu.RUnlock()

	SortBySource(out)
	return out, nil
}

// Len returns the number of stored fragments.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// SortBySource orders fragments by source, then position, then id.
func SortBySource(fragments []common.Fragment) {
	slices.SortFunc(fragments, func(a, b common.Fragment) int {
		return cmp.Or(
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.Position, b.Position),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
