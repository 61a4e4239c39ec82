package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// MongoSink upserts templates into a MongoDB collection keyed by slug.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoSink connects to MongoDB and ensures a unique slug index.
func NewMongoSink(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb index: %w", err)
	}

	return &MongoSink{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_catalog"),
	}, nil
}

func (s *MongoSink) Name() string { return "mongodb" }

func (s *MongoSink) Save(ctx context.Context, t *types.Template) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"slug": t.Slug},
		bson.M{"$set": t},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb upsert: %w", err)
	}

	s.mu.Lock()
	s.count++
	total := s.count
	s.mu.Unlock()
	s.logger.Debug("template stored in mongodb", "slug", t.Slug, "total", total)
	return nil
}

func (s *MongoSink) KnownURLs(ctx context.Context) (map[string]bool, error) {
	values, err := s.collection.Distinct(ctx, "source_url", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongodb distinct: %w", err)
	}
	known := make(map[string]bool, len(values))
	for _, v := range values {
		if u, ok := v.(string); ok {
			known[u] = true
		}
	}
	return known, nil
}

func (s *MongoSink) Close() error {
	s.mu.Lock()
	total := s.count
	s.mu.Unlock()
	s.logger.Info("mongodb catalog closing", "templates", total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
