// Package jsonapi reads codes from any JSON endpoint. Paths use gjson
// syntax: "items" selects the list, "code" and "rewards" select fields
// within each element. Rewards may be an array of strings or one
// human-written string.
package jsonapi

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

type Source struct {
	name        string
	url         string
	itemsPath   string
	codePath    string
	rewardsPath string
	headers     map[string]string
	client      *http.Client
	logger      *slog.Logger
}

// NewFactory returns the registration for the "jsonapi" source type.
//
// Params: url (required), items (default "@this"), code (default "code"),
// rewards (default "rewards"), and any "header.<Name>" entries, sent as
// request headers.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "JSON API",
		New: func(name string, params map[string]string, logger *slog.Logger) (source.Source, error) {
			if params["url"] == "" {
				return nil, errors.New("jsonapi source: url param is required")
			}
			s := &Source{
				name:        name,
				url:         params["url"],
				itemsPath:   cmp.Or(params["items"], "@this"),
				codePath:    cmp.Or(params["code"], "code"),
				rewardsPath: cmp.Or(params["rewards"], "rewards"),
				headers:     map[string]string{},
				client:      source.DefaultClient,
				logger:      logging.Default(logger),
			}
			for k, v := range params {
				if h, ok := strings.CutPrefix(k, "header."); ok && h != "" {
					s.headers[h] = v
				}
			}
			return s, nil
		},
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Fetch(ctx context.Context) ([]codes.Record, error) {
	body, err := source.Get(ctx, s.client, s.url, s.headers)
	if err != nil {
		return nil, err
	}
	out, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		s.logger.Warn("no codes found, response shape may have changed", "url", s.url, "items", s.itemsPath)
	}
	return out, nil
}

func (s *Source) parse(body []byte) ([]codes.Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("jsonapi %s: response is not valid JSON", s.name)
	}
	items := gjson.GetBytes(body, s.itemsPath)
	if !items.IsArray() {
		return nil, fmt.Errorf("jsonapi %s: %q does not select an array", s.name, s.itemsPath)
	}

	var out []codes.Record
	for _, item := range items.Array() {
		code := strings.TrimSpace(item.Get(s.codePath).String())
		if code == "" {
			continue
		}
		out = append(out, codes.Record{
			Code:    code,
			Rewards: rewardsOf(item.Get(s.rewardsPath)),
			Source:  s.name,
			Active:  true,
		})
	}
	return out, nil
}

func rewardsOf(v gjson.Result) []string {
	if !v.IsArray() {
		return source.SplitRewards(v.String())
	}
	var out []string
	for _, r := range v.Array() {
		if s := source.CollapseSpace(r.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
