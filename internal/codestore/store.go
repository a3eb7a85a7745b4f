// Package codestore defines the persistence contract for redemption codes
// and news items. Backends live in subpackages (memory, sqlite, postgres,
// mongo) and share the conformance suite in storetest.
package codestore

import (
	"context"
	"errors"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

// ErrNotFound is returned by SetActive for a code that was never stored.
var ErrNotFound = errors.New("code not found")

// Store persists code records and news items.
//
// Upsert is atomic per code. For a code already stored it updates only
// Rewards and Source; the stored Active flag and DiscoveredAt never change.
// For a new code it stores Rewards, Source, and Active, and stamps
// DiscoveredAt with the store's clock.
//
// ReadAll returns every record ordered by DiscoveredAt, then Code.
//
// SetActive is the only way to change an existing code's Active flag.
type Store interface {
	Upsert(ctx context.Context, r codes.Record) error
	ReadAll(ctx context.Context) ([]codes.Record, error)
	SetActive(ctx context.Context, code string, active bool) error

	news.Store

	Close() error
}
