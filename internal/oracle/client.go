// Package oracle talks to the HoYoverse redemption endpoint, which is the
// only authority on whether a code still works.
package oracle

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
)

const (
	DefaultEndpoint = "https://sg-hkrpg-api.hoyoverse.com/common/apicdkey/api/webExchangeCdkey"
	DefaultGameBiz  = "hkrpg_global"
)

// Validator checks one code against the oracle.
type Validator interface {
	Validate(ctx context.Context, code string) (Outcome, error)
}

// Config holds the account and transport settings.
type Config struct {
	Endpoint   string
	GameBiz    string
	Region     string
	UID        string
	Cookie     string //nolint:gosec // G117: config field, not a hardcoded credential
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is an HTTP Validator.
type Client struct {
	cfg    Config
	http   *http.Client
	now    func() time.Time
	logger *slog.Logger
}

var _ Validator = (*Client)(nil)

// New creates a Client. A nil HTTPClient gets a 15s timeout client.
func New(cfg Config) *Client {
	cfg.Endpoint = cmp.Or(cfg.Endpoint, DefaultEndpoint)
	cfg.GameBiz = cmp.Or(cfg.GameBiz, DefaultGameBiz)
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		http:   hc,
		now:    time.Now,
		logger: logging.Default(cfg.Logger).With("component", "oracle"),
	}
}

type response struct {
	Retcode *int   `json:"retcode"`
	Message string `json:"message"`
}

// Validate submits code once. A classified response returns a nil error,
// including InvalidCredentials; callers decide what is fatal. Transport
// failures return a *TransportError.
func (c *Client) Validate(ctx context.Context, code string) (Outcome, error) {
	q := url.Values{}
	q.Set("cdkey", code)
	q.Set("game_biz", c.cfg.GameBiz)
	q.Set("lang", "en")
	q.Set("region", c.cfg.Region)
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("uid", c.cfg.UID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Outcome{}, &TransportError{Code: code, Err: err}
	}
	req.Header.Set("Cookie", c.cfg.Cookie)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, &TransportError{Code: code, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, &TransportError{Code: code, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, &TransportError{Code: code, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Outcome{}, &TransportError{Code: code, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	if r.Retcode == nil {
		return Outcome{}, &TransportError{Code: code, StatusCode: resp.StatusCode, Err: errors.New("response has no retcode")}
	}

	o := Classify(*r.Retcode, r.Message)
	c.logger.Debug("code validated", "code", code, "outcome", o.Kind.String(), "retcode", o.Retcode)
	return o, nil
}
