// Package polygon scrapes the Polygon Star Rail codes guide, where each
// code is a list item of the form "CODE (reward, reward and reward)".
package polygon

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

const DefaultURL = "https://www.polygon.com/honkai-star-rail-guides/23699079/code-redeem-redemption-gift-stellar-jade"

var (
	itemPattern = regexp.MustCompile(`^(.*?)\((.*?)\)`)
	codePattern = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)
)

type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "polygon" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Polygon",
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

// parse reads every list item inside a ul. A reward may carry an editorial
// note after an em dash, which is dropped.
func (s *Source) parse(body []byte) ([]codes.Record, error) {
	root, err := htmlq.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse polygon html: %w", err)
	}

	var out []codes.Record
	for _, ul := range htmlq.FindAll(root, htmlq.Tag(atom.Ul)) {
		for _, li := range htmlq.Children(ul, htmlq.Tag(atom.Li)) {
			m := itemPattern.FindStringSubmatch(source.CollapseSpace(htmlq.Text(li)))
			if m == nil {
				continue
			}
			code := strings.TrimSpace(m[1])
			if !codePattern.MatchString(code) {
				continue
			}
			var rewards []string
			for _, r := range source.SplitRewards(m[2]) {
				r, _, _ = strings.Cut(r, "—")
				if r = strings.TrimSpace(r); r != "" {
					rewards = append(rewards, r)
				}
			}
			if len(rewards) == 0 {
				continue
			}
			out = append(out, codes.Record{Code: code, Rewards: rewards, Source: s.name, Active: true})
		}
	}
	return out, nil
}
