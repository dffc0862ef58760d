package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stepbystep_bot/internal/domain"
)

type logCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type logDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    int64              `bson:"user_id,omitempty"`
	Level     string             `bson:"level"`
	Message   string             `bson:"message"`
	Event     string             `bson:"event,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
}

// LogStore keeps the append-only audit trail in the logs collection.
type LogStore struct {
	logs logCollection
}

var (
	_ domain.LogWriter = (*LogStore)(nil)
	_ domain.LogReader = (*LogStore)(nil)
)

// NewLogStore constructs a LogStore for the provided logs collection.
func NewLogStore(logs logCollection) *LogStore {
	return &LogStore{logs: logs}
}

// AppendLog inserts one audit entry.
func (s *LogStore) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	if s == nil || s.logs == nil {
		return errors.New("log store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	doc := logDocument{
		UserID:    entry.UserID,
		Level:     entry.Level,
		Message:   entry.Message,
		Event:     entry.Event,
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}

	if _, err := s.logs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	return nil
}

// ListLogs returns audit entries newest first.
func (s *LogStore) ListLogs(ctx context.Context, query domain.LogQuery) ([]domain.LogEntry, error) {
	if s == nil || s.logs == nil {
		return nil, errors.New("log store is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	query = query.Normalized()
	filter := bson.M{}
	if query.UserID != 0 {
		filter["user_id"] = query.UserID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(query.Offset)).
		SetLimit(int64(query.Limit))

	cursor, err := s.logs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	var docs []logDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list logs: decode: %w", err)
	}

	entries := make([]domain.LogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.LogEntry{
			ID:        doc.ID.Hex(),
			UserID:    doc.UserID,
			Level:     doc.Level,
			Message:   doc.Message,
			Event:     doc.Event,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}

	return entries, nil
}
