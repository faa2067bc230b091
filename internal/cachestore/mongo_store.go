package cachestore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"menurec/internal/database"
	"menurec/internal/models"
)

// MongoStore keeps rows in the recommendation_cache collection.
// The unique (user_id, mode) index created by database.MongoDB.Initialize backs the upsert.
type MongoStore struct {
	mongoDB *database.MongoDB
}

// NewMongoStore creates a store over an initialized MongoDB connection
func NewMongoStore(mongoDB *database.MongoDB) *MongoStore {
	return &MongoStore{mongoDB: mongoDB}
}

func (s *MongoStore) collection() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionRecommendationCache)
}

func (s *MongoStore) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	e, err := prepare(entry)
	if err != nil {
		return err
	}

	set := bson.M{
		"status":     e.Status,
		"created_at": e.CreatedAt,
		"expires_at": e.ExpiresAt,
	}
	unset := bson.M{}

	if len(e.Payload) > 0 {
		set["recommendations"] = e.Payload
	} else {
		unset["recommendations"] = ""
	}
	if e.ErrorMessage != "" {
		set["error_message"] = e.ErrorMessage
	} else {
		unset["error_message"] = ""
	}
	if e.PromptHash != "" {
		set["prompt_hash"] = e.PromptHash
	} else {
		unset["prompt_hash"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	_, err = s.collection().UpdateOne(ctx,
		bson.M{"user_id": e.UserID, "mode": e.Mode},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return &models.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, key models.CacheKey, now time.Time) (*models.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var entry models.CacheEntry
	err := s.collection().FindOne(ctx, bson.M{
		"user_id":    key.UserID,
		"mode":       key.Mode,
		"expires_at": bson.M{"$gt": normalizeTime(now)},
	}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get", Err: err}
	}

	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	return &entry, nil
}

func (s *MongoStore) Inspect(ctx context.Context, userID string, now time.Time) ([]models.EntryInfo, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}

	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "mode", Value: 1}})
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, &models.StoreError{Op: "inspect", Err: err}
	}
	defer cursor.Close(ctx)

	var entries []models.CacheEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, &models.StoreError{Op: "inspect", Err: err}
	}

	infos := make([]models.EntryInfo, 0, len(entries))
	for _, e := range entries {
		e.CreatedAt = e.CreatedAt.UTC()
		e.ExpiresAt = e.ExpiresAt.UTC()
		infos = append(infos, entryInfo(e, now))
	}
	return infos, nil
}

func (s *MongoStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.collection().DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, &models.StoreError{Op: "clear", Err: err}
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) RepairLabels(ctx context.Context) (int64, error) {
	res, err := s.collection().UpdateMany(ctx,
		bson.M{
			"status":            models.StatusPending,
			"recommendations.0": bson.M{"$exists": true},
		},
		bson.M{
			"$set":   bson.M{"status": models.StatusCompleted},
			"$unset": bson.M{"error_message": ""},
		},
	)
	if err != nil {
		return 0, &models.StoreError{Op: "repair", Err: err}
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	now = normalizeTime(now)
	stats := newStats()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"expires_at": bson.M{"$gt": now}}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}
	for _, g := range groups {
		stats.ByStatus[models.Status(g.Status)] = g.Count
	}

	stats.Expired, err = s.collection().CountDocuments(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}
	return stats, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.mongoDB.Ping(ctx)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.mongoDB.Close(ctx)
}
