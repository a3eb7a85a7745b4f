// Package game8 scrapes the active codes list on the Game8 Star Rail page.
package game8

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source/htmlq"
)

const DefaultURL = "https://game8.co/games/Honkai-Star-Rail/archives/410296"

// activeHeading introduces the list of working codes. Later lists on the
// page hold expired ones.
const activeHeading = "Active Redeem Codes for"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{8,}$`)

type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "game8" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Game8",
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

// parse reads the first "ul.a-list" after the active codes heading. Each
// "li.a-listItem" holds the code in an "a.a-link" followed by the rewards
// in parentheses.
func (s *Source) parse(body []byte) ([]codes.Record, error) {
	root, err := htmlq.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse game8 html: %w", err)
	}

	list := activeList(root)
	if list == nil {
		return nil, nil
	}
	var out []codes.Record
	for _, item := range htmlq.FindAll(list, htmlq.Class("a-listItem")) {
		link := htmlq.First(item, htmlq.Class("a-link"))
		code := strings.TrimSpace(htmlq.Text(link))
		if !codePattern.MatchString(code) {
			continue
		}
		text := strings.Replace(htmlq.Text(item), code, "", 1)
		text = strings.TrimSpace(strings.ReplaceAll(text, "NEW", ""))
		text = strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
		rewards := source.SplitRewards(text)
		if len(rewards) == 0 {
			continue
		}
		out = append(out, codes.Record{Code: code, Rewards: rewards, Source: s.name, Active: true})
	}
	return out, nil
}

func activeList(root *html.Node) *html.Node {
	isList := htmlq.Class("a-list")
	seen := false
	for n := range root.Descendants() {
		switch {
		case !seen && n.Type == html.ElementNode && n.DataAtom == atom.H2:
			seen = strings.Contains(htmlq.Text(n), activeHeading)
		case seen && n.DataAtom == atom.Ul && isList(n):
			return n
		}
	}
	return nil
}
