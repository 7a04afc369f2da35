package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Analysis
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Analysis)}
}

func (s *MemoryStore) Put(_ context.Context, a Analysis) error {
	n, err := normalize(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[n.ID] = clone(n)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) ListByRepo(_ context.Context, repoID string, limit int) ([]Analysis, error) {
	repoID = strings.TrimSpace(repoID)
	s.mu.RLock()
	out := make([]Analysis, 0, 8)
	for _, a := range s.byID {
		if a.RepoID == repoID {
			out = append(out, clone(a))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
