// Package source defines code sources and builds the ordered source list
// from configuration.
//
// A source is any site or API that publishes redemption codes. Sources are
// unreliable: each fetch may fail on its own and the failure never
// affects other sources or the run.
package source

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/config"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
)

// Source fetches candidate codes. Returned records carry Active=true and
// may contain duplicates.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]codes.Record, error)
}

// Factory builds a Source from its params. name is the display name
// recorded on every record the source returns.
type Factory func(name string, params map[string]string, logger *slog.Logger) (Source, error)

// Registration pairs a factory with the display name used when the config
// does not set one.
type Registration struct {
	DefaultName string
	New         Factory
}

// Factories maps a source type to its registration.
type Factories map[string]Registration

// Build instantiates sources in config order. Order matters: on duplicate
// codes the record from the later source wins.
func Build(cfgs []config.SourceConfig, factories Factories, logger *slog.Logger) ([]Source, error) {
	logger = logging.Default(logger)

	sources := make([]Source, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for i, sc := range cfgs {
		reg, ok := factories[strings.ToLower(sc.Type)]
		if !ok {
			return nil, fmt.Errorf("source %d: unknown type %q", i, sc.Type)
		}
		name := cmp.Or(sc.Name, reg.DefaultName)
		if seen[name] {
			return nil, fmt.Errorf("source %d: duplicate name %q", i, name)
		}
		seen[name] = true

		src, err := reg.New(name, sc.Params, logger.With("component", "source", "source", name))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
