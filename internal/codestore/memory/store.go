// Package memory provides an in-memory codestore.Store.
// Intended for tests and throwaway runs; nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

// Store is an in-memory codestore.Store.
type Store struct {
	mu    sync.RWMutex
	codes map[string]codes.Record
	news  map[newsKey]news.Item
	now   func() time.Time
}

type newsKey struct{ id, lang string }

var _ codestore.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		codes: make(map[string]codes.Record),
		news:  make(map[newsKey]news.Item),
		now:   time.Now,
	}
}

// SetClock replaces the clock used to stamp DiscoveredAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Upsert(_ context.Context, r codes.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.codes[r.Code]; ok {
		existing.Rewards = slices.Clone(r.Rewards)
		existing.Source = r.Source
		s.codes[r.Code] = existing
		return nil
	}
	r = r.Clone()
	r.DiscoveredAt = s.now().UTC()
	s.codes[r.Code] = r
	return nil
}

func (s *Store) ReadAll(_ context.Context) ([]codes.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]codes.Record, 0, len(s.codes))
	for _, r := range s.codes {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b codes.Record) int {
		if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out, nil
}

func (s *Store) SetActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.codes[code]
	if !ok {
		return codestore.ErrNotFound
	}
	r.Active = active
	s.codes[code] = r
	return nil
}

func (s *Store) PutNews(_ context.Context, item news.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.Banner = slices.Clone(item.Banner)
	s.news[newsKey{item.ID, item.Lang}] = item
	return nil
}

func (s *Store) ListNews(_ context.Context, f news.Filter) ([]news.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []news.Item{}
	for _, item := range s.news {
		if f.Match(item) {
			item.Banner = slices.Clone(item.Banner)
			out = append(out, item)
		}
	}
	news.SortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
