// Package codes defines the redemption code record shared by sources,
// the reconciliation pipeline, and the stores.
package codes

import (
	"slices"
	"time"
)

// Record is one redemption code as seen by the system.
type Record struct {
	Code         string
	Rewards      []string
	Source       string
	Active       bool
	DiscoveredAt time.Time // set by the store on first insert, zero from sources
}

// Clone returns a copy of r that shares no slices with it.
func (r Record) Clone() Record {
	r.Rewards = slices.Clone(r.Rewards)
	return r
}

// KnownState maps each persisted code to its stored active flag.
type KnownState map[string]bool

// Known builds a KnownState from persisted records.
func Known(records []Record) KnownState {
	ks := make(KnownState, len(records))
	for _, r := range records {
		ks[r.Code] = r.Active
	}
	return ks
}

// Split partitions records by their Active flag.
type Split struct {
	Active   []Record
	Inactive []Record
}

// SplitByActive partitions records, preserving their relative order.
func SplitByActive(records []Record) Split {
	s := Split{Active: []Record{}, Inactive: []Record{}}
	for _, r := range records {
		if r.Active {
			s.Active = append(s.Active, r)
		} else {
			s.Inactive = append(s.Inactive, r)
		}
	}
	return s
}
