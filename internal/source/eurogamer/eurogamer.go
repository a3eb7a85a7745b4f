// Package eurogamer scrapes the Eurogamer Star Rail codes article. Codes
// appear both as "CODE: reward and reward" list items and as rows of the
// codes table.
package eurogamer

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html/atom"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source/htmlq"
)

const DefaultURL = "https://www.eurogamer.net/honkai-star-rail-codes-livestream-active-working-how-to-redeem-9321"

// Redemption codes are upper-case alphanumerics; anything else in a list
// item before a colon is prose.
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)

type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "eurogamer" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Eurogamer",
		New: func(name string, params map[string]string, logger *slog.Logger) (source.Source, error) {
			return &Source{
				name:   name,
				url:    cmp.Or(params["url"], DefaultURL),
				client: source.DefaultClient,
				logger: logging.Default(logger),
			}, nil
		},
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Fetch(ctx context.Context) ([]codes.Record, error) {
	body, err := source.Get(ctx, s.client, s.url, nil)
	if err != nil {
		return nil, err
	}
	out, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		s.logger.Warn("no codes found, page layout may have changed", "url", s.url)
	}
	return out, nil
}

func (s *Source) parse(body []byte) ([]codes.Record, error) {
	root, err := htmlq.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse eurogamer html: %w", err)
	}

	var out []codes.Record
	for _, li := range htmlq.FindAll(root, htmlq.Tag(atom.Li)) {
		code, rewards, ok := strings.Cut(source.CollapseSpace(htmlq.Text(li)), ":")
		code = strings.TrimSpace(code)
		if !ok || !codePattern.MatchString(code) {
			continue
		}
		out = append(out, s.record(code, rewards))
	}

	// Table rows: code, rewards, and a trailing column we ignore.
	for _, tr := range htmlq.FindAll(root, htmlq.Tag(atom.Tr)) {
		cells := htmlq.Children(tr, htmlq.Tag(atom.Td))
		if len(cells) < 2 {
			continue
		}
		code := source.CollapseSpace(htmlq.Text(cells[0]))
		if !codePattern.MatchString(code) {
			continue
		}
		out = append(out, s.record(code, htmlq.Text(cells[1])))
	}
	return out, nil
}

func (s *Source) record(code, rewards string) codes.Record {
	return codes.Record{Code: code, Rewards: source.SplitRewards(rewards), Source: s.name, Active: true}
}
