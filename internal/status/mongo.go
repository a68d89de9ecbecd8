package status

import (
	"context"
	"fmt"

	"github.com/cankoe/obs-schedule-ingest/internal/models"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const RunsCollection = "task_runs"

// MongoStore appends every run record to the task_runs collection.
type MongoStore struct {
	runs *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{runs: db.Collection(RunsCollection)}
}

// EnsureIndexes creates the indexes History and operators query by.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "task", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create task_runs indexes: %w", err)
	}
	log.Info().Str("collection", RunsCollection).Msg("Run record indexes ensured")
	return nil
}

func (s *MongoStore) Record(ctx context.Context, rec models.RunRecord) error {
	if _, err := s.runs.InsertOne(ctx, rec); err != nil {
		log.Error().Err(err).Str("task", rec.Task).Str("run_id", rec.RunID).Msg("Failed to insert run record")
		return fmt.Errorf("mongo record run %s: %w", rec.Task, err)
	}
	return nil
}

// History returns up to limit records of task, newest first.
func (s *MongoStore) History(ctx context.Context, task string, limit int64) ([]models.RunRecord, error) {
	opts := options.Find().SetSort(historySort()).SetLimit(limit)
	cursor, err := s.runs.Find(ctx, historyFilter(task), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find runs %s: %w", task, err)
	}
	defer cursor.Close(ctx)

	var out []models.RunRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo decode runs %s: %w", task, err)
	}
	return out, nil
}

func historyFilter(task string) bson.M {
	return bson.M{"task": task}
}

func historySort() bson.D {
	return bson.D{{Key: "started_at", Value: -1}}
}
