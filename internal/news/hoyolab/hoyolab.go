// Package hoyolab fetches the official Star Rail news feeds from the
// Hoyolab community API.
package hoyolab

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/source"
)

const (
	DefaultEndpoint = "https://bbs-api-os.hoyolab.com"

	gameID     = "6"
	pageSize   = "15"
	appVersion = "2.42.0"
	clientType = "4"
)

// getNewsList type parameter per feed.
const (
	listNotice = 1
	listInfo   = 3
)

// ArticleURL is the public page of a post.
func ArticleURL(id string) string {
	return "https://www.hoyolab.com/article/" + id
}

// Client implements news.Fetcher.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client. An empty endpoint uses DefaultEndpoint.
func New(endpoint string, client *http.Client) *Client {
	return &Client{
		endpoint: cmp.Or(endpoint, DefaultEndpoint),
		http:     cmp.Or(client, source.DefaultClient),
	}
}

var _ news.Fetcher = (*Client)(nil)

// Fetch returns events, notices and info posts for lang. Any feed failing
// fails the whole language.
func (c *Client) Fetch(ctx context.Context, lang string) ([]news.Item, error) {
	events, err := c.Events(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	notices, err := c.posts(ctx, lang, listNotice, news.TypeNotice)
	if err != nil {
		return nil, fmt.Errorf("notices: %w", err)
	}
	info, err := c.posts(ctx, lang, listInfo, news.TypeInfo)
	if err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}
	out := make([]news.Item, 0, len(events)+len(notices)+len(info))
	out = append(out, events...)
	out = append(out, notices...)
	return append(out, info...), nil
}

// timestamp accepts both "1700000000" and 1700000000.
type timestamp int64

func (t *timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", b, err)
	}
	*t = timestamp(n)
	return nil
}

type envelope[T any] struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

type eventList struct {
	List []struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Desc      string    `json:"desc"`
		CreateAt  timestamp `json:"create_at"`
		BannerURL string    `json:"banner_url"`
	} `json:"list"`
}

type postList struct {
	List []struct {
		Post struct {
			PostID    string    `json:"post_id"`
			Subject   string    `json:"subject"`
			Content   string    `json:"content"`
			CreatedAt timestamp `json:"created_at"`
		} `json:"post"`
		ImageList []struct {
			URL string `json:"url"`
		} `json:"image_list"`
	} `json:"list"`
}

func get[T any](ctx context.Context, c *Client, path string, q url.Values, lang string) (*T, error) {
	u := c.endpoint + path + "?" + q.Encode()
	body, err := source.Get(ctx, c.http, u, map[string]string{
		"x-rpc-app_version": appVersion,
		"x-rpc-client_type": clientType,
		"x-rpc-language":    lang,
	})
	if err != nil {
		return nil, err
	}
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if env.Retcode != 0 {
		return nil, fmt.Errorf("retcode %d: %s", env.Retcode, env.Message)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("response has no data")
	}
	return env.Data, nil
}

// Events returns the event feed for lang.
func (c *Client) Events(ctx context.Context, lang string) ([]news.Item, error) {
	q := url.Values{"page_size": {pageSize}, "size": {pageSize}, "gids": {gameID}}
	data, err := get[eventList](ctx, c, "/community/community_contribution/wapi/event/list", q, lang)
	if err != nil {
		return nil, err
	}
	out := make([]news.Item, 0, len(data.List))
	for _, e := range data.List {
		item := news.Item{
			ID:          e.ID,
			Title:       e.Name,
			Description: e.Desc,
			CreatedAt:   int64(e.CreateAt),
			Banner:      []string{},
			URL:         ArticleURL(e.ID),
			Type:        news.TypeEvent,
			Lang:        lang,
		}
		if e.BannerURL != "" {
			item.Banner = []string{e.BannerURL}
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) posts(ctx context.Context, lang string, listType int, itemType string) ([]news.Item, error) {
	q := url.Values{"gids": {gameID}, "page_size": {pageSize}, "type": {strconv.Itoa(listType)}}
	data, err := get[postList](ctx, c, "/community/post/wapi/getNewsList", q, lang)
	if err != nil {
		return nil, err
	}
	out := make([]news.Item, 0, len(data.List))
	for _, p := range data.List {
		banner := make([]string, 0, len(p.ImageList))
		for _, img := range p.ImageList {
			banner = append(banner, img.URL)
		}
		out = append(out, news.Item{
			ID:          p.Post.PostID,
			Title:       p.Post.Subject,
			Description: p.Post.Content,
			CreatedAt:   int64(p.Post.CreatedAt),
			Banner:      banner,
			URL:         ArticleURL(p.Post.PostID),
			Type:        itemType,
			Lang:        lang,
		})
	}
	return out, nil
}
