// Package aggregate fans fetches out over all sources and merges the
// results into one record per code.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

// Observer is told about every fetch outcome. *metrics.Metrics satisfies it.
type Observer interface {
	SourceFetch(source string, err error)
}

// Collect fetches every source concurrently and returns one batch per
// source, indexed like sources. A failing source yields an empty batch and
// is logged; Collect itself never fails. Completion order does not affect
// the result.
func Collect(ctx context.Context, sources []source.Source, obs Observer, logger *slog.Logger) [][]codes.Record {
	logger = logging.Default(logger)
	batches := make([][]codes.Record, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			recs, err := src.Fetch(ctx)
			if obs != nil {
				obs.SourceFetch(src.Name(), err)
			}
			if err != nil {
				logger.Warn("source fetch failed", "source", src.Name(), "error", err, "duration", time.Since(start))
				return nil
			}
			logger.Debug("source fetched", "source", src.Name(), "codes", len(recs), "duration", time.Since(start))
			batches[i] = recs
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return batches
}

// Merge flattens batches into one record per code. When a code appears
// more than once the last occurrence wins (later batch, or later within a
// batch); the output keeps the position of the code's first appearance.
func Merge(batches ...[]codes.Record) []codes.Record {
	index := make(map[string]int)
	var out []codes.Record
	for _, batch := range batches {
		for _, r := range batch {
			if r.Code == "" {
				continue
			}
			if i, ok := index[r.Code]; ok {
				out[i] = r
				continue
			}
			index[r.Code] = len(out)
			out = append(out, r)
		}
	}
	return out
}
