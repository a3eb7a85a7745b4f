// Package prydwen scrapes the code boxes on the Prydwen Star Rail page.
package prydwen

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source/htmlq"
)

const DefaultURL = "https://www.prydwen.gg/star-rail/"

type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "prydwen" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Prydwen",
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

// parse reads ".codes .box" elements, each holding a ".code" and a
// ".rewards" element with rewards joined by " + ".
func (s *Source) parse(body []byte) ([]codes.Record, error) {
	root, err := htmlq.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse prydwen html: %w", err)
	}

	var out []codes.Record
	for _, container := range htmlq.FindAll(root, htmlq.Class("codes")) {
		for _, box := range htmlq.FindAll(container, htmlq.Class("box")) {
			code := htmlq.Text(htmlq.First(box, htmlq.Class("code")))
			code = strings.TrimSpace(strings.ReplaceAll(code, "NEW!", ""))
			if code == "" {
				continue
			}
			rewards := source.SplitRewards(htmlq.Text(htmlq.First(box, htmlq.Class("rewards"))))
			out = append(out, codes.Record{Code: code, Rewards: rewards, Source: s.name, Active: true})
		}
	}
	return out, nil
}
