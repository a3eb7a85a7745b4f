// Package notify announces newly discovered codes to external systems
// (chat webhooks, Kafka, MQTT) and provides the broadcast Signal used to
// tell readers that persisted codes changed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/config"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
)

// ClaimURL is the official web redemption page for a code.
func ClaimURL(code string) string {
	return "https://hsr.hoyoverse.com/gift?code=" + url.QueryEscape(code)
}

// Notifier delivers one announcement.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r codes.Record) error
	Close() error
}

// Factory builds a Notifier from its params.
type Factory func(params map[string]string, logger *slog.Logger) (Notifier, error)

// Factories maps a notifier type to its factory.
type Factories map[string]Factory

// Observer is told about every delivery. *metrics.Metrics satisfies it.
type Observer interface {
	Notification(notifier string, err error)
}

// Payload is the body sent by the message-bus notifiers.
type Payload struct {
	Code         string    `json:"code" msgpack:"code"`
	Rewards      []string  `json:"rewards" msgpack:"rewards"`
	Source       string    `json:"source" msgpack:"source"`
	DiscoveredAt time.Time `json:"discovered_at" msgpack:"discovered_at"`
	ClaimURL     string    `json:"claim_url" msgpack:"claim_url"`
}

// NewPayload builds the announcement for r.
func NewPayload(r codes.Record) Payload {
	rewards := r.Rewards
	if rewards == nil {
		rewards = []string{}
	}
	return Payload{
		Code:         r.Code,
		Rewards:      rewards,
		Source:       r.Source,
		DiscoveredAt: r.DiscoveredAt,
		ClaimURL:     ClaimURL(r.Code),
	}
}

// Marshal encodes the payload for r.
func Marshal(r codes.Record) ([]byte, error) {
	return json.Marshal(NewPayload(r))
}

// Multi fans announcements out to every configured notifier. Delivery
// failures are logged and never returned.
type Multi struct {
	notifiers []Notifier
	obs       Observer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewMulti wraps notifiers. obs may be nil.
func NewMulti(notifiers []Notifier, obs Observer, logger *slog.Logger) *Multi {
	return &Multi{
		notifiers: notifiers,
		obs:       obs,
		timeout:   15 * time.Second,
		logger:    logging.Default(logger).With("component", "notify"),
	}
}

// Build instantiates notifiers from config.
func Build(cfgs []config.NotifierConfig, factories Factories, logger *slog.Logger) ([]Notifier, error) {
	logger = logging.Default(logger)
	out := make([]Notifier, 0, len(cfgs))
	for i, nc := range cfgs {
		f, ok := factories[strings.ToLower(nc.Type)]
		if !ok {
			closeAll(out)
			return nil, fmt.Errorf("notifier %d: unknown type %q", i, nc.Type)
		}
		n, err := f(nc.Params, logger.With("component", "notify", "type", nc.Type))
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("notifier %d (%s): %w", i, nc.Type, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func closeAll(ns []Notifier) {
	for _, n := range ns {
		_ = n.Close()
	}
}

// Len returns the number of wrapped notifiers.
func (m *Multi) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Announce delivers each record to each notifier, one at a time.
func (m *Multi) Announce(ctx context.Context, recs []codes.Record) {
	if m.Len() == 0 {
		return
	}
	for _, r := range recs {
		for _, n := range m.notifiers {
			nctx, cancel := context.WithTimeout(ctx, m.timeout)
			err := n.Notify(nctx, r)
			cancel()
			if m.obs != nil {
				m.obs.Notification(n.Name(), err)
			}
			if err != nil {
				m.logger.Warn("notification failed", "notifier", n.Name(), "code", r.Code, "error", err)
				continue
			}
			m.logger.Info("new code announced", "notifier", n.Name(), "code", r.Code)
		}
	}
}

// Close closes every notifier.
func (m *Multi) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
