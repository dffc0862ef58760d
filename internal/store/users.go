package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stepbystep_bot/internal/domain"
)

type userCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// userDocument is the persisted shape of a user. step_sent_at holds Unix
// milliseconds with 0 meaning unset, so conditional updates compare exact
// integers.
type userDocument struct {
	UserID           int64     `bson:"user_id"`
	CurrentStep      int       `bson:"current_step"`
	PaymentStatus    string    `bson:"payment_status"`
	PaymentReference string    `bson:"payment_reference"`
	IsPaid           bool      `bson:"is_paid"`
	StepSentAt       int64     `bson:"step_sent_at"`
	InvitePending    bool      `bson:"invite_pending"`
	IsUploadMode     bool      `bson:"is_upload_mode"`
	IsAdmin          bool      `bson:"is_admin"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (d userDocument) toDomain() domain.User {
	return domain.User{
		ID:               d.UserID,
		CurrentStep:      d.CurrentStep,
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		PaymentReference: d.PaymentReference,
		IsPaid:           d.IsPaid,
		StepSentAt:       domain.FromUnixMillis(d.StepSentAt),
		InvitePending:    d.InvitePending,
		IsUploadMode:     d.IsUploadMode,
		IsAdmin:          d.IsAdmin,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

// UserStore implements domain.ProgressStore on the users collection.
type UserStore struct {
	users userCollection
	stats *StatsProvider
	now   func() time.Time
}

var _ domain.ProgressStore = (*UserStore)(nil)

// NewUserStore constructs a UserStore for the provided users collection.
func NewUserStore(users userCollection) *UserStore {
	return &UserStore{
		users: users,
		stats: NewStatsProvider(users),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}
}

// Register upserts the seed record when the user is unknown and returns the
// stored document. Two first contacts can race on the unique user_id index;
// the loser sees a duplicate key error and reads the winner's record.
func (s *UserStore) Register(ctx context.Context, seed domain.User) (domain.User, bool, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, false, err
	}
	if seed.ID == 0 {
		return domain.User{}, false, errors.New("user id is required")
	}

	now := s.now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":           seed.ID,
			"current_step":      seed.CurrentStep,
			"payment_status":    string(seed.PaymentStatus),
			"payment_reference": seed.PaymentReference,
			"is_paid":           seed.IsPaid,
			"step_sent_at":      domain.UnixMillis(seed.StepSentAt),
			"invite_pending":    seed.InvitePending,
			"is_upload_mode":    seed.IsUploadMode,
			"is_admin":          seed.IsAdmin,
			"created_at":        now,
			"updated_at":        now,
		},
	}

	result, err := s.users.UpdateOne(ctx, bson.M{"user_id": seed.ID}, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return domain.User{}, false, fmt.Errorf("register user: %w", err)
	}
	created := err == nil && result != nil && result.UpsertedCount > 0

	user, err := s.Get(ctx, seed.ID)
	if err != nil {
		return domain.User{}, false, err
	}

	return user, created, nil
}

// Get loads the user record.
func (s *UserStore) Get(ctx context.Context, userID int64) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}

	var doc userDocument
	if err := s.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	return doc.toDomain(), nil
}

// Delete removes the user record.
func (s *UserStore) Delete(ctx context.Context, userID int64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	result, err := s.users.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}

	return result != nil && result.DeletedCount > 0, nil
}

// SwapProgress writes next only while the stored progress equals expect.
// Progress that claims delivery additionally requires a paid user.
func (s *UserStore) SwapProgress(ctx context.Context, userID int64, expect, next domain.Progress) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := next.ValidateTransition(expect); err != nil {
		return err
	}

	filter := bson.M{
		"user_id":        userID,
		"current_step":   expect.CurrentStep,
		"step_sent_at":   domain.UnixMillis(expect.StepSentAt),
		"invite_pending": expect.InvitePending,
	}
	if next.Claims() {
		filter["is_paid"] = true
	}

	update := bson.M{"$set": bson.M{
		"current_step":   next.CurrentStep,
		"step_sent_at":   domain.UnixMillis(next.StepSentAt),
		"invite_pending": next.InvitePending,
		"updated_at":     s.now(),
	}}

	return s.conditionalUpdate(ctx, userID, filter, update, "swap progress")
}

// ResetProgress moves the user back to the first step.
func (s *UserStore) ResetProgress(ctx context.Context, userID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"current_step":   0,
		"step_sent_at":   int64(0),
		"invite_pending": false,
		"updated_at":     s.now(),
	}}

	return s.conditionalUpdate(ctx, userID, bson.M{"user_id": userID}, update, "reset progress")
}

// StartPayment records a pending payment for an unpaid user whose stored
// payment still matches expect.
func (s *UserStore) StartPayment(ctx context.Context, userID int64, expect domain.PaymentState, reference string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if reference == "" {
		return errors.New("payment reference is required")
	}

	update := bson.M{"$set": bson.M{
		"payment_status":    string(domain.PaymentPending),
		"payment_reference": reference,
		"updated_at":        s.now(),
	}}

	filter := bson.M{
		"user_id":           userID,
		"is_paid":           false,
		"payment_status":    string(expect.Status),
		"payment_reference": expect.Reference,
	}

	return s.conditionalUpdate(ctx, userID, filter, update, "start payment")
}

// ResolvePayment finalizes the pending payment identified by reference.
func (s *UserStore) ResolvePayment(ctx context.Context, userID int64, reference string, status domain.PaymentStatus) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	set := bson.M{
		"payment_status": string(status),
		"updated_at":     s.now(),
	}
	if status == domain.PaymentSucceeded {
		set["is_paid"] = true
	}

	filter := bson.M{
		"user_id":           userID,
		"payment_status":    string(domain.PaymentPending),
		"payment_reference": reference,
	}

	return s.conditionalUpdate(ctx, userID, filter, bson.M{"$set": set}, "resolve payment")
}

// SetAdmin toggles admin mode. Granting admin also grants paid access.
func (s *UserStore) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	set := bson.M{
		"is_admin":   admin,
		"updated_at": s.now(),
	}
	if admin {
		set["is_paid"] = true
	}

	return s.conditionalUpdate(ctx, userID, bson.M{"user_id": userID}, bson.M{"$set": set}, "set admin")
}

// SetUploadMode toggles media reference echoing for the user.
func (s *UserStore) SetUploadMode(ctx context.Context, userID int64, enabled bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"is_upload_mode": enabled,
		"updated_at":     s.now(),
	}}

	return s.conditionalUpdate(ctx, userID, bson.M{"user_id": userID}, update, "set upload mode")
}

// ListPendingPayments returns unpaid users with a pending payment.
func (s *UserStore) ListPendingPayments(ctx context.Context) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	filter := bson.M{
		"payment_status": string(domain.PaymentPending),
		"is_paid":        false,
	}

	return s.find(ctx, filter, "list pending payments")
}

// ListInviteCandidates returns paid users without a pending invite that match
// the query.
func (s *UserStore) ListInviteCandidates(ctx context.Context, query domain.InviteQuery) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	step := bson.M{"$lt": query.StepBelow}
	if query.StepEquals != nil {
		step["$eq"] = *query.StepEquals
	}

	filter := bson.M{
		"is_paid":        true,
		"invite_pending": false,
		"current_step":   step,
	}
	if !query.SentBefore.IsZero() {
		filter["step_sent_at"] = bson.M{"$lt": domain.UnixMillis(query.SentBefore)}
	}
	if query.AdminsOnly {
		filter["is_admin"] = true
	}

	return s.find(ctx, filter, "list invite candidates")
}

// Stats summarizes the users collection.
func (s *UserStore) Stats(ctx context.Context, catalogLen int) (domain.Stats, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Stats{}, err
	}

	return s.stats.Summarize(ctx, catalogLen)
}

func (s *UserStore) conditionalUpdate(ctx context.Context, userID int64, filter, update bson.M, op string) error {
	result, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result != nil && result.MatchedCount > 0 {
		return nil
	}

	count, err := s.users.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return domain.ErrUserNotFound
	}

	return fmt.Errorf("%s: %w", op, domain.ErrConflict)
}

func (s *UserStore) find(ctx context.Context, filter bson.M, op string) ([]domain.User, error) {
	cursor, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toDomain())
	}

	return users, nil
}

func (s *UserStore) ready(ctx context.Context) error {
	if s == nil || s.users == nil {
		return errors.New("user store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
