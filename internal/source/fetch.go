package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent is sent when a source does not configure one. Some code
// sites reject obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// DefaultClient is shared by sources that are not given their own client.
var DefaultClient = &http.Client{Timeout: 20 * time.Second}

const maxBody = 8 << 20

// Get fetches url and returns the body of a 2xx response.
func Get(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return body, nil
}

// SplitRewards splits a human-written reward list such as
// "Stellar Jade x60 and Credit x10,000, Traveler's Guide x2" on " and ",
// " + ", and comma-space, dropping "NEW!" markers and empty parts.
// A comma without a following space ("10,000") is a thousands separator.
func SplitRewards(s string) []string {
	s = newMarker.ReplaceAllString(s, "")
	var out []string
	for _, part := range splitAny(s, " and ", " + ", ", ") {
		if p := CollapseSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
