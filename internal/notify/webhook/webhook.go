// Package webhook posts new-code announcements to an HTTP endpoint, either
// as a Discord embed or as the plain notify.Payload JSON.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
)

const (
	FormatDiscord = "discord"
	FormatJSON    = "json"
)

// Config holds webhook settings.
type Config struct {
	URL      string
	Format   string
	Username string // Discord display name
	Client   *http.Client
	Logger   *slog.Logger
}

// Notifier posts to one webhook URL.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a webhook notifier.
func New(cfg Config) *Notifier {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{cfg: cfg, client: client, logger: logging.Default(cfg.Logger)}
}

// NewFactory returns the factory for the "webhook" notifier type.
func NewFactory() notify.Factory {
	return func(params map[string]string, logger *slog.Logger) (notify.Notifier, error) {
		raw := params["url"]
		if raw == "" {
			return nil, fmt.Errorf("webhook notifier: url param is required")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("webhook notifier: invalid url %q", raw)
		}
		format := strings.ToLower(params["format"])
		switch format {
		case "":
			format = FormatDiscord
		case FormatDiscord, FormatJSON:
		default:
			return nil, fmt.Errorf("webhook notifier: unsupported format %q (supported: discord, json)", format)
		}
		return New(Config{URL: raw, Format: format, Username: params["username"], Logger: logger}), nil
	}
}

func (n *Notifier) Name() string { return "webhook" }

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	URL       string         `json:"url"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp,omitempty"`
	Footer    *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func discordBody(r codes.Record, username string) discordMessage {
	rewards := strings.Join(r.Rewards, "\n")
	if rewards == "" {
		rewards = "Unknown"
	}
	embed := discordEmbed{
		Title: "New Honkai: Star Rail code",
		URL:   notify.ClaimURL(r.Code),
		Color: 0x5865F2,
		Fields: []discordField{
			{Name: "Code", Value: "`" + r.Code + "`", Inline: true},
			{Name: "Source", Value: r.Source, Inline: true},
			{Name: "Rewards", Value: rewards},
			{Name: "Redeem", Value: notify.ClaimURL(r.Code)},
		},
		Footer: &discordFooter{Text: "starrail-api"},
	}
	if !r.DiscoveredAt.IsZero() {
		embed.Timestamp = r.DiscoveredAt.UTC().Format(time.RFC3339)
	}
	return discordMessage{Username: username, Embeds: []discordEmbed{embed}}
}

func (n *Notifier) Notify(ctx context.Context, r codes.Record) error {
	var body any = notify.NewPayload(r)
	if n.cfg.Format != FormatJSON {
		body = discordBody(r, n.cfg.Username)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: unexpected status %s", resp.Status)
	}
	return nil
}

// Close is a no-op.
func (n *Notifier) Close() error { return nil }
