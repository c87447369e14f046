package scraper_test

import (
	"context"
	"fmt"
	"sync"

	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/store"
)

// memStore enforces the (source, country, key) uniqueness the real table
// does and can simulate a concurrent writer.
type memStore struct {
	mu   sync.Mutex
	rows map[string]model.Posting

	// raceOnce inserts these postings just before the next InsertMany and
	// makes that call fail with ErrDuplicateKey.
	raceOnce []model.Posting
	// dropSilently makes InsertMany report success without writing.
	dropSilently bool
	inserts      int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]model.Posting)}
}

func rowKey(ds model.DataSource, country, key string) string {
	return fmt.Sprintf("%s|%s|%s", ds, country, key)
}

func (s *memStore) seed(ps ...model.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.rows[rowKey(p.Source, p.Country, p.DedupKey())] = p
	}
}

func (s *memStore) InsertMany(_ context.Context, ps []model.Posting) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++

	if len(s.raceOnce) > 0 {
		for _, p := range s.raceOnce {
			s.rows[rowKey(p.Source, p.Country, p.DedupKey())] = p
		}
		s.raceOnce = nil
		return 0, fmt.Errorf("copy: %w", store.ErrDuplicateKey)
	}
	if s.dropSilently {
		return len(ps), nil
	}

	for _, p := range ps {
		if _, dup := s.rows[rowKey(p.Source, p.Country, p.DedupKey())]; dup {
			return 0, fmt.Errorf("copy: %w", store.ErrDuplicateKey)
		}
	}
	for _, p := range ps {
		s.rows[rowKey(p.Source, p.Country, p.DedupKey())] = p
	}
	return len(ps), nil
}

func (s *memStore) FindExistingKeys(_ context.Context, keys []string, ds model.DataSource, country string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, k := range keys {
		if _, ok := s.rows[rowKey(ds, country, k)]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) all() []model.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Posting, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	return out
}

// mapResolver rewrites URLs found in the map and leaves the rest alone.
type mapResolver map[string]string

func (m mapResolver) ResolveAll(_ context.Context, urls []string) ([]string, error) {
	out := make([]string, len(urls))
	for i, u := range urls {
		if v, ok := m[u]; ok {
			out[i] = v
		} else {
			out[i] = u
		}
	}
	return out, nil
}
