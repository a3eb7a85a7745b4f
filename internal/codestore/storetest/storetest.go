// Package storetest provides a shared conformance suite for codestore.Store
// implementations. Each backend wires it into its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

// TestStore runs the full suite. newStore must return a fresh, empty store
// for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) codestore.Store) {
	t.Run("ReadAllEmpty", func(t *testing.T) {
		s := newStore(t)
		all, err := s.ReadAll(context.Background())
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected empty store, got %+v", all)
		}
	})

	t.Run("UpsertNew", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		before := time.Now().Add(-time.Second)
		if err := s.Upsert(ctx, codes.Record{Code: "STARRAILGIFT", Rewards: []string{"50 Stellar Jade", "10000 Credit"}, Source: "Hoyolab", Active: false}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		got := mustGet(t, s, "STARRAILGIFT")
		if got.Active {
			t.Error("Active: expected false as given on insert")
		}
		if got.Source != "Hoyolab" {
			t.Errorf("Source: expected Hoyolab, got %q", got.Source)
		}
		if !slices.Equal(got.Rewards, []string{"50 Stellar Jade", "10000 Credit"}) {
			t.Errorf("Rewards: got %v", got.Rewards)
		}
		if got.DiscoveredAt.Before(before) {
			t.Errorf("DiscoveredAt: expected to be stamped on insert, got %v", got.DiscoveredAt)
		}
	})

	t.Run("UpsertExistingKeepsActiveAndDiscoveredAt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Upsert(ctx, codes.Record{Code: "A", Rewards: []string{"x"}, Source: "Prydwen", Active: true}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		first := mustGet(t, s, "A")
		if err := s.SetActive(ctx, "A", false); err != nil {
			t.Fatalf("SetActive: %v", err)
		}

		if err := s.Upsert(ctx, codes.Record{Code: "A", Rewards: []string{"y", "z"}, Source: "Eurogamer", Active: true}); err != nil {
			t.Fatalf("Upsert again: %v", err)
		}
		got := mustGet(t, s, "A")
		if got.Active {
			t.Error("Active: upsert of an existing code must not change it")
		}
		if !got.DiscoveredAt.Equal(first.DiscoveredAt) {
			t.Errorf("DiscoveredAt: expected %v, got %v", first.DiscoveredAt, got.DiscoveredAt)
		}
		if got.Source != "Eurogamer" {
			t.Errorf("Source: expected Eurogamer, got %q", got.Source)
		}
		if !slices.Equal(got.Rewards, []string{"y", "z"}) {
			t.Errorf("Rewards: got %v", got.Rewards)
		}

		all, err := s.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 record after upsert, got %d", len(all))
		}
	})

	t.Run("EmptyRewards", func(t *testing.T) {
		s := newStore(t)
		if err := s.Upsert(context.Background(), codes.Record{Code: "A", Active: true}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if got := mustGet(t, s, "A"); len(got.Rewards) != 0 {
			t.Errorf("expected no rewards, got %v", got.Rewards)
		}
	})

	t.Run("CaseSensitiveCodes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, c := range []string{"abc", "ABC"} {
			if err := s.Upsert(ctx, codes.Record{Code: c, Active: true}); err != nil {
				t.Fatalf("Upsert %s: %v", c, err)
			}
		}
		all, err := s.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 distinct codes, got %d", len(all))
		}
	})

	t.Run("ReadAllOrderedByDiscovery", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, c := range []string{"ZETA", "ALPHA", "MID"} {
			if err := s.Upsert(ctx, codes.Record{Code: c, Active: true}); err != nil {
				t.Fatalf("Upsert %s: %v", c, err)
			}
			time.Sleep(5 * time.Millisecond)
		}
		all, err := s.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		got := make([]string, len(all))
		for i, r := range all {
			got[i] = r.Code
		}
		if !slices.Equal(got, []string{"ZETA", "ALPHA", "MID"}) {
			t.Errorf("expected discovery order, got %v", got)
		}
	})

	t.Run("SetActive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Upsert(ctx, codes.Record{Code: "A", Active: true}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := s.SetActive(ctx, "A", false); err != nil {
			t.Fatalf("SetActive(false): %v", err)
		}
		if mustGet(t, s, "A").Active {
			t.Error("expected inactive")
		}
		if err := s.SetActive(ctx, "A", true); err != nil {
			t.Fatalf("SetActive(true): %v", err)
		}
		if !mustGet(t, s, "A").Active {
			t.Error("expected active")
		}
	})

	t.Run("SetActiveUnknown", func(t *testing.T) {
		s := newStore(t)
		err := s.SetActive(context.Background(), "NOPE", false)
		if !errors.Is(err, codestore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := range 20 {
			wg.Go(func() {
				// Half the writers collide on the same code.
				code := fmt.Sprintf("CODE%d", i%10)
				if err := s.Upsert(ctx, codes.Record{Code: code, Rewards: []string{"r"}, Active: true}); err != nil {
					errs <- err
				}
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("Upsert: %v", err)
		}

		all, err := s.ReadAll(ctx)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if len(all) != 10 {
			t.Fatalf("expected 10 codes, got %d", len(all))
		}
	})

	// News
	t.Run("PutListNews", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		items := []news.Item{
			{ID: "1", Lang: "en-us", Type: news.TypeEvent, Title: "old event", CreatedAt: 100, Banner: []string{"b1"}},
			{ID: "2", Lang: "en-us", Type: news.TypeEvent, Title: "new event", CreatedAt: 300},
			{ID: "3", Lang: "en-us", Type: news.TypeNotice, Title: "notice", CreatedAt: 200},
			{ID: "1", Lang: "ja-jp", Type: news.TypeEvent, Title: "イベント", CreatedAt: 100},
		}
		for _, it := range items {
			if err := s.PutNews(ctx, it); err != nil {
				t.Fatalf("PutNews %s/%s: %v", it.ID, it.Lang, err)
			}
		}

		events, err := s.ListNews(ctx, news.Filter{Type: news.TypeEvent, Lang: "en-us"})
		if err != nil {
			t.Fatalf("ListNews: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].ID != "2" || events[1].ID != "1" {
			t.Errorf("expected newest first, got %s then %s", events[0].ID, events[1].ID)
		}
		if !slices.Equal(events[1].Banner, []string{"b1"}) {
			t.Errorf("Banner: got %v", events[1].Banner)
		}

		all, err := s.ListNews(ctx, news.Filter{})
		if err != nil {
			t.Fatalf("ListNews all: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 items, got %d", len(all))
		}

		limited, err := s.ListNews(ctx, news.Filter{Lang: "en-us", Limit: 1})
		if err != nil {
			t.Fatalf("ListNews limited: %v", err)
		}
		if len(limited) != 1 || limited[0].ID != "2" {
			t.Errorf("expected only newest item, got %+v", limited)
		}
	})

	t.Run("PutNewsUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.PutNews(ctx, news.Item{ID: "1", Lang: "en-us", Type: news.TypeInfo, Title: "v1", CreatedAt: 1}); err != nil {
			t.Fatalf("PutNews: %v", err)
		}
		if err := s.PutNews(ctx, news.Item{ID: "1", Lang: "en-us", Type: news.TypeInfo, Title: "v2", CreatedAt: 1}); err != nil {
			t.Fatalf("PutNews again: %v", err)
		}
		got, err := s.ListNews(ctx, news.Filter{Type: news.TypeInfo})
		if err != nil {
			t.Fatalf("ListNews: %v", err)
		}
		if len(got) != 1 || got[0].Title != "v2" {
			t.Fatalf("expected single updated item, got %+v", got)
		}
	})
}

func mustGet(t *testing.T, s codestore.Store, code string) codes.Record {
	t.Helper()
	all, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	for _, r := range all {
		if r.Code == code {
			return r
		}
	}
	t.Fatalf("code %s not found in %+v", code, all)
	return codes.Record{}
}
