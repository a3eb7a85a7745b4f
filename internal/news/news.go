// Package news keeps a local copy of the official Hoyolab news feeds
// (events, notices, info) for every supported language.
package news

import (
	"context"
	"slices"
	"strings"
)

// Feed types.
const (
	TypeEvent  = "event"
	TypeNotice = "notice"
	TypeInfo   = "info"
)

// Types lists the feeds in refresh order.
var Types = []string{TypeEvent, TypeNotice, TypeInfo}

// Item is one news post. (ID, Lang) identifies it.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CreatedAt   int64    `json:"createdAt"` // unix seconds
	Banner      []string `json:"banner"`
	URL         string   `json:"url"`
	Type        string   `json:"type"`
	Lang        string   `json:"lang"`
}

// Filter narrows ListNews. Empty fields match everything.
type Filter struct {
	Type  string
	Lang  string
	Limit int // 0 means no limit
}

// Match reports whether item passes f, ignoring Limit.
func (f Filter) Match(item Item) bool {
	return (f.Type == "" || item.Type == f.Type) && (f.Lang == "" || item.Lang == f.Lang)
}

// Store persists news items.
type Store interface {
	PutNews(ctx context.Context, item Item) error
	ListNews(ctx context.Context, f Filter) ([]Item, error)
}

// SortNewestFirst orders items by CreatedAt descending, then ID for ties.
func SortNewestFirst(items []Item) {
	slices.SortStableFunc(items, func(a, b Item) int {
		if a.CreatedAt != b.CreatedAt {
			if a.CreatedAt > b.CreatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// SupportedLanguages are the locales the Hoyolab feeds serve.
var SupportedLanguages = []string{
	"en-us", "zh-cn", "zh-tw", "de-de", "es-es", "fr-fr", "id-id",
	"it-it", "ja-jp", "ko-kr", "pt-pt", "ru-ru", "th-th", "tr-tr", "vi-vn",
}

var shortLanguages = map[string]string{
	"en": "en-us",
	"cn": "zh-cn",
	"tw": "zh-tw",
	"de": "de-de",
	"es": "es-es",
	"fr": "fr-fr",
	"id": "id-id",
	"it": "it-it",
	"ja": "ja-jp", "jp": "ja-jp",
	"ko": "ko-kr", "kr": "ko-kr",
	"pt": "pt-pt",
	"ru": "ru-ru",
	"th": "th-th",
	"tr": "tr-tr",
	"vi": "vi-vn", "vn": "vi-vn",
}

// ParseLanguage maps a short or full language code to a supported locale.
// Anything unrecognised falls back to en-us.
func ParseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if full, ok := shortLanguages[code]; ok {
		return full
	}
	if slices.Contains(SupportedLanguages, code) {
		return code
	}
	return "en-us"
}
