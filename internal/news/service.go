package news

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
)

// Fetcher returns every current item of every feed for one language.
type Fetcher interface {
	Fetch(ctx context.Context, lang string) ([]Item, error)
}

// Service refreshes the stored news.
type Service struct {
	fetcher     Fetcher
	store       Store
	languages   []string
	concurrency int
	logger      *slog.Logger
}

// ServiceConfig configures a Service. Empty Languages means all supported.
type ServiceConfig struct {
	Fetcher     Fetcher
	Store       Store
	Languages   []string
	Concurrency int
	Logger      *slog.Logger
}

// NewService creates a news Service.
func NewService(cfg ServiceConfig) *Service {
	langs := make([]string, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		langs = append(langs, ParseLanguage(l))
	}
	if len(langs) == 0 {
		langs = SupportedLanguages
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 3
	}
	return &Service{
		fetcher:     cfg.Fetcher,
		store:       cfg.Store,
		languages:   langs,
		concurrency: conc,
		logger:      logging.Default(cfg.Logger).With("component", "news"),
	}
}

// Report summarises one refresh.
type Report struct {
	Fetched int
	Failed  []string // languages whose fetch failed
}

// Refresh fetches every language and upserts the results. A language that
// fails to fetch is logged and skipped; a store failure aborts the refresh.
func (s *Service) Refresh(ctx context.Context) (Report, error) {
	var (
		mu  sync.Mutex
		rep Report
	)

	fetchGroup, fctx := errgroup.WithContext(ctx)
	fetchGroup.SetLimit(s.concurrency)
	batches := make([][]Item, len(s.languages))
	for i, lang := range s.languages {
		fetchGroup.Go(func() error {
			items, err := s.fetcher.Fetch(fctx, lang)
			if err != nil {
				s.logger.Error("news fetch failed", "lang", lang, "error", err)
				mu.Lock()
				rep.Failed = append(rep.Failed, lang)
				mu.Unlock()
				return nil
			}
			s.logger.Debug("news fetched", "lang", lang, "items", len(items))
			batches[i] = items
			return nil
		})
	}
	_ = fetchGroup.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	for _, batch := range batches {
		for _, item := range batch {
			if err := s.store.PutNews(ctx, item); err != nil {
				return rep, fmt.Errorf("save news %s/%s: %w", item.Lang, item.ID, err)
			}
			rep.Fetched++
		}
	}
	s.logger.Info("news refreshed", "items", rep.Fetched, "languages", len(s.languages), "failed", len(rep.Failed))
	return rep, nil
}
