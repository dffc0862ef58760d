package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stepbystep_bot/internal/domain"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider computes operator counters from the users collection without
// leaking MongoDB internals to callers.
type StatsProvider struct {
	users countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the users collection.
func NewStatsProvider(users countCollection) *StatsProvider {
	return &StatsProvider{users: users}
}

// Summarize counts users by payment, completion and admin state. Completion is
// measured against the given catalog length.
func (p *StatsProvider) Summarize(ctx context.Context, catalogLen int) (domain.Stats, error) {
	if ctx == nil {
		return domain.Stats{}, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return domain.Stats{}, errors.New("stats provider is not initialized")
	}

	var stats domain.Stats
	counters := []struct {
		name   string
		filter bson.M
		target *int64
	}{
		{"users", bson.M{}, &stats.Users},
		{"paid", bson.M{"is_paid": true}, &stats.Paid},
		{"pending payments", bson.M{"payment_status": string(domain.PaymentPending), "is_paid": false}, &stats.PendingPayments},
		{"completed", bson.M{"current_step": bson.M{"$gte": catalogLen}}, &stats.Completed},
		{"admins", bson.M{"is_admin": true}, &stats.Admins},
	}

	for _, c := range counters {
		count, err := p.users.CountDocuments(ctx, c.filter)
		if err != nil {
			return domain.Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
		*c.target = count
	}

	return stats, nil
}
