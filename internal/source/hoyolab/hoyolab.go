// Package hoyolab reads codes from the Hoyolab community guide API, which
// lists the exchange codes shown on the official Star Rail hub.
package hoyolab

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

const DefaultURL = "https://bbs-api-os.hoyolab.com/community/painter/wapi/circle/channel/guide/material?game_id=6"

// Reward names keyed by the image hash embedded in icon URLs.
var rewardIcons = []struct{ hash, name string }{
	{"77cb5426637574ba524ac458fa963da0_6409817950389238658", "Stellar Jade"},
	{"7cb0e487e051f177d3f41de8d4bbc521_2556290033227986328", "Refined Aether"},
	{"508229a94e4fa459651f64c1cd02687a_6307505132287490837", "Traveler's Guide"},
	{"0b12bdf76fa4abc6b4d1fdfc0fb4d6f5_4521150989210768295", "Credit"},
}

// Source is the Hoyolab API source.
type Source struct {
	name   string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewFactory returns the registration for the "hoyolab" source type.
func NewFactory() source.Registration {
	return source.Registration{
		DefaultName: "Hoyolab",
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

type response struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    *struct {
		Modules []struct {
			ExchangeGroup *struct {
				Bonuses []bonus `json:"bonuses"`
			} `json:"exchange_group"`
		} `json:"modules"`
	} `json:"data"`
}

type bonus struct {
	ExchangeCode string `json:"exchange_code"`
	CodeStatus   string `json:"code_status"`
	IconBonuses  []struct {
		BonusNum flexString `json:"bonus_num"`
		IconURL  string     `json:"icon_url"`
	} `json:"icon_bonuses"`
}

func (s *Source) Fetch(ctx context.Context) ([]codes.Record, error) {
	body, err := source.Get(ctx, s.client, s.url, map[string]string{
		"x-rpc-app_version": "2.42.0",
		"x-rpc-client_type": "4",
	})
	if err != nil {
		return nil, err
	}
	out, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("codes fetched", "count", len(out))
	return out, nil
}

func (s *Source) parse(body []byte) ([]codes.Record, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode hoyolab response: %w", err)
	}
	if r.Retcode != 0 {
		return nil, fmt.Errorf("hoyolab retcode %d: %s", r.Retcode, r.Message)
	}
	if r.Data == nil {
		return nil, nil
	}

	var out []codes.Record
	for _, m := range r.Data.Modules {
		if m.ExchangeGroup == nil {
			continue
		}
		for _, b := range m.ExchangeGroup.Bonuses {
			code := strings.TrimSpace(b.ExchangeCode)
			if b.CodeStatus != "ON" || code == "" {
				continue
			}
			rewards := make([]string, 0, len(b.IconBonuses))
			for _, ib := range b.IconBonuses {
				rewards = append(rewards, fmt.Sprintf("%s %s", ib.BonusNum, rewardName(ib.IconURL)))
			}
			out = append(out, codes.Record{Code: code, Rewards: rewards, Source: s.name, Active: true})
		}
	}
	return out, nil
}

// flexString accepts a JSON string or number; the API has sent both.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func rewardName(iconURL string) string {
	for _, ri := range rewardIcons {
		if strings.Contains(iconURL, ri.hash) {
			return ri.name
		}
	}
	return "Unknown"
}
