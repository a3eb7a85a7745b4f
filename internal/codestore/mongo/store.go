// Package mongo provides a codestore.Store backed by MongoDB.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/codestore"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
)

const (
	codesCollection = "codes"
	newsCollection  = "news"
)

type codeDoc struct {
	Code         string    `bson:"code"`
	Rewards      []string  `bson:"rewards"`
	Source       string    `bson:"source"`
	Active       bool      `bson:"active"`
	DiscoveredAt time.Time `bson:"discovered_at"`
}

type newsDoc struct {
	ID          string   `bson:"id"`
	Lang        string   `bson:"lang"`
	Type        string   `bson:"type"`
	Title       string   `bson:"title"`
	Description string   `bson:"description"`
	CreatedAt   int64    `bson:"created_at"`
	Banner      []string `bson:"banner"`
	URL         string   `bson:"url"`
}

// Config configures the Mongo store.
type Config struct {
	URI      string
	Database string
	Logger   *slog.Logger
}

// Store is a MongoDB-backed codestore.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	codes  *mongo.Collection
	news   *mongo.Collection
	now    func() time.Time
	logger *slog.Logger
}

var _ codestore.Store = (*Store)(nil)

// NewStore connects, pings, and ensures the unique indexes exist.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		db:     db,
		codes:  db.Collection(codesCollection),
		news:   db.Collection(newsCollection),
		now:    time.Now,
		logger: logging.Default(cfg.Logger).With("component", "codestore", "type", "mongo"),
	}

	if _, err := s.codes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create codes index: %w", err)
	}
	if _, err := s.news.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}, {Key: "lang", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create news index: %w", err)
	}

	s.logger.Info("mongo store ready", "database", cfg.Database)
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Upsert(ctx context.Context, r codes.Record) error {
	update := bson.M{
		"$set": bson.M{
			"rewards": nonNil(r.Rewards),
			"source":  r.Source,
		},
		"$setOnInsert": bson.M{
			"active":        r.Active,
			"discovered_at": s.now().UTC().Truncate(time.Millisecond),
		},
	}
	opts := options.Update().SetUpsert(true)

	_, err := s.codes.UpdateOne(ctx, bson.M{"code": r.Code}, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on insert; the retry takes the update path.
		_, err = s.codes.UpdateOne(ctx, bson.M{"code": r.Code}, update, opts)
	}
	if err != nil {
		return fmt.Errorf("upsert code %s: %w", r.Code, err)
	}
	return nil
}

func (s *Store) ReadAll(ctx context.Context) ([]codes.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "discovered_at", Value: 1}, {Key: "code", Value: 1}})
	cur, err := s.codes.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find codes: %w", err)
	}
	var docs []codeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode codes: %w", err)
	}

	out := make([]codes.Record, len(docs))
	for i, d := range docs {
		out[i] = codes.Record{
			Code:         d.Code,
			Rewards:      d.Rewards,
			Source:       d.Source,
			Active:       d.Active,
			DiscoveredAt: d.DiscoveredAt,
		}
	}
	return out, nil
}

func (s *Store) SetActive(ctx context.Context, code string, active bool) error {
	res, err := s.codes.UpdateOne(ctx, bson.M{"code": code}, bson.M{"$set": bson.M{"active": active}})
	if err != nil {
		return fmt.Errorf("set active for %s: %w", code, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set active for %s: %w", code, codestore.ErrNotFound)
	}
	return nil
}

func (s *Store) PutNews(ctx context.Context, item news.Item) error {
	doc := newsDoc{
		ID:          item.ID,
		Lang:        item.Lang,
		Type:        item.Type,
		Title:       item.Title,
		Description: item.Description,
		CreatedAt:   item.CreatedAt,
		Banner:      nonNil(item.Banner),
		URL:         item.URL,
	}
	_, err := s.news.ReplaceOne(ctx,
		bson.M{"id": item.ID, "lang": item.Lang},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert news %s/%s: %w", item.ID, item.Lang, err)
	}
	return nil
}

func (s *Store) ListNews(ctx context.Context, f news.Filter) ([]news.Item, error) {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Lang != "" {
		filter["lang"] = f.Lang
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.news.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find news: %w", err)
	}
	var docs []newsDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}

	out := make([]news.Item, len(docs))
	for i, d := range docs {
		out[i] = news.Item{
			ID:          d.ID,
			Lang:        d.Lang,
			Type:        d.Type,
			Title:       d.Title,
			Description: d.Description,
			CreatedAt:   d.CreatedAt,
			Banner:      d.Banner,
			URL:         d.URL,
		}
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
