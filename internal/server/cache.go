package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
)

type codeEntry struct {
	Code    string   `json:"code"`
	Rewards []string `json:"rewards"`
}

type codeResponse struct {
	Active   []codeEntry `json:"active"`
	Inactive []codeEntry `json:"inactive"`
}

func entries(recs []codes.Record) []codeEntry {
	out := make([]codeEntry, len(recs))
	for i, r := range recs {
		rewards := r.Rewards
		if rewards == nil {
			rewards = []string{}
		}
		out[i] = codeEntry{Code: r.Code, Rewards: rewards}
	}
	return out
}

// codeCache holds the encoded /starrail/code body until the changed signal
// fires. Without a signal nothing is cached.
type codeCache struct {
	store   codestore.Store
	changed *notify.Signal

	mu    sync.Mutex
	body  []byte
	stale <-chan struct{}
}

func newCodeCache(store codestore.Store, changed *notify.Signal) *codeCache {
	return &codeCache{store: store, changed: changed}
}

func (c *codeCache) fresh() bool {
	if c.body == nil {
		return false
	}
	select {
	case <-c.stale:
		return false
	default:
		return true
	}
}

func (c *codeCache) get(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.changed != nil && c.fresh() {
		return c.body, nil
	}

	// Grab the channel before reading so a write racing the read marks
	// this result stale.
	var stale <-chan struct{}
	if c.changed != nil {
		stale = c.changed.C()
	}

	recs, err := c.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	split := codes.SplitByActive(recs)
	body, err := json.Marshal(codeResponse{Active: entries(split.Active), Inactive: entries(split.Inactive)})
	if err != nil {
		return nil, fmt.Errorf("encode codes: %w", err)
	}
	body = append(body, '\n')

	if c.changed != nil {
		c.body, c.stale = body, stale
	}
	return body, nil
}
