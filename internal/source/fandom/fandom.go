// Package fandom scrapes the redemption code table on the Star Rail Fandom
// wiki.
package fandom

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

const DefaultURL = "https://honkai-star-rail.fandom.com/wiki/Redemption_Code"

var (
	codePattern = regexp.MustCompile(`\b(?:HSRGRANDOPEN[0-9]|[A-Z0-9]{11,15})\b`)
	// Server column values, footnote markers, and wiki widgets.
	noise  = regexp.MustCompile(`\bAll\b|\[\d+\]|Quick Redeem`)
	amount = regexp.MustCompile(`×\s*([\d,]+)`)
)

type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "fandom" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Fandom",
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

// parse reads the rows of the first table in the article body. Rewards are
// written as "Stellar Jade ×60 Credit ×5,000" and come out as
// "Stellar Jade x60", "Credit x5,000". Codes for the China server are skipped.
func (s *Source) parse(body []byte) ([]codes.Record, error) {
	root, err := htmlq.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse fandom html: %w", err)
	}

	article := htmlq.First(root, htmlq.Class("mw-parser-output"))
	if article == nil {
		return nil, nil
	}
	table := htmlq.First(article, htmlq.Tag(atom.Table))
	if table == nil {
		return nil, nil
	}

	var out []codes.Record
	for _, tr := range htmlq.FindAll(table, htmlq.Tag(atom.Tr)) {
		cells := htmlq.Children(tr, htmlq.Tag(atom.Td))
		if len(cells) == 0 {
			continue
		}
		texts := make([]string, len(cells))
		for i, c := range cells {
			texts[i] = htmlq.Text(c)
		}
		row := source.CollapseSpace(strings.Join(texts, " "))
		if strings.Contains(row, "China") {
			continue
		}
		row = noise.ReplaceAllString(row, "")

		loc := codePattern.FindStringIndex(row)
		if loc == nil {
			continue
		}
		rest, _, _ := strings.Cut(row[loc[1]:], "Discovered")
		rewards := splitAmounts(rest)
		if len(rewards) == 0 {
			continue
		}
		out = append(out, codes.Record{Code: row[loc[0]:loc[1]], Rewards: rewards, Source: s.name, Active: true})
	}
	return out, nil
}

// splitAmounts pairs each reward name with the "×N" that follows it.
// Names without an amount are dropped.
func splitAmounts(s string) []string {
	var out []string
	prev := 0
	for _, m := range amount.FindAllStringSubmatchIndex(s, -1) {
		name := source.CollapseSpace(s[prev:m[0]])
		prev = m[1]
		if name == "" {
			continue
		}
		out = append(out, name+" x"+strings.TrimRight(s[m[2]:m[3]], ","))
	}
	return out
}
