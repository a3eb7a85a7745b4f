// Package static serves operator-supplied codes from configuration, for
// codes announced in places no scraper covers (livestreams, mail).
package static

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

// Source returns the same records on every fetch.
type Source struct {
	name    string
	records []codes.Record
}

// NewFactory returns the registration for the "static" source type. The
// "codes" param lists entries separated by ";", each "CODE: reward, reward".
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Static",
		New: func(name string, params map[string]string, _ *slog.Logger) (source.Source, error) {
			raw := params["codes"]
			if strings.TrimSpace(raw) == "" {
				return nil, fmt.Errorf("static source: codes param is required")
			}
			s := &Source{name: name}
			for entry := range strings.SplitSeq(raw, ";") {
				entry = strings.TrimSpace(entry)
				if entry == "" {
					continue
				}
				code, rewards, _ := strings.Cut(entry, ":")
				code = strings.TrimSpace(code)
				if code == "" {
					return nil, fmt.Errorf("static source: entry %q has no code", entry)
				}
				s.records = append(s.records, codes.Record{
					Code:    code,
					Rewards: source.SplitRewards(rewards),
					Source:  name,
					Active:  true,
				})
			}
			return s, nil
		},
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Fetch(context.Context) ([]codes.Record, error) {
	out := make([]codes.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out, nil
}
