package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stepbystep_bot/internal/domain"
)

// userRow mirrors the Mongo user document. step_sent_at holds Unix
// milliseconds with 0 meaning unset.
type userRow struct {
	UserID           int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	CurrentStep      int       `gorm:"column:current_step;not null;default:0;index:idx_users_invite_scan,priority:3"`
	PaymentStatus    string    `gorm:"column:payment_status;not null;default:'';index"`
	PaymentReference string    `gorm:"column:payment_reference;not null;default:''"`
	IsPaid           bool      `gorm:"column:is_paid;not null;default:false;index:idx_users_invite_scan,priority:1"`
	StepSentAt       int64     `gorm:"column:step_sent_at;not null;default:0"`
	InvitePending    bool      `gorm:"column:invite_pending;not null;default:false;index:idx_users_invite_scan,priority:2"`
	IsUploadMode     bool      `gorm:"column:is_upload_mode;not null;default:false"`
	IsAdmin          bool      `gorm:"column:is_admin;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (userRow) TableName() string {
	return "users"
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:               r.UserID,
		CurrentStep:      r.CurrentStep,
		PaymentStatus:    domain.PaymentStatus(r.PaymentStatus),
		PaymentReference: r.PaymentReference,
		IsPaid:           r.IsPaid,
		StepSentAt:       domain.FromUnixMillis(r.StepSentAt),
		InvitePending:    r.InvitePending,
		IsUploadMode:     r.IsUploadMode,
		IsAdmin:          r.IsAdmin,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

// Register inserts the seed unless a row already exists.
func (s *Store) Register(ctx context.Context, seed domain.User) (domain.User, bool, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, false, err
	}
	if seed.ID == 0 {
		return domain.User{}, false, errors.New("user id is required")
	}

	now := s.now()
	row := userRow{
		UserID:           seed.ID,
		CurrentStep:      seed.CurrentStep,
		PaymentStatus:    string(seed.PaymentStatus),
		PaymentReference: seed.PaymentReference,
		IsPaid:           seed.IsPaid,
		StepSentAt:       domain.UnixMillis(seed.StepSentAt),
		InvitePending:    seed.InvitePending,
		IsUploadMode:     seed.IsUploadMode,
		IsAdmin:          seed.IsAdmin,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return domain.User{}, false, fmt.Errorf("register user: %w", result.Error)
	}

	user, err := s.Get(ctx, seed.ID)
	if err != nil {
		return domain.User{}, false, err
	}

	return user, result.RowsAffected > 0, nil
}

// Get loads the user row.
func (s *Store) Get(ctx context.Context, userID int64) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}

	var row userRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	return row.toDomain(), nil
}

// Delete removes the user row.
func (s *Store) Delete(ctx context.Context, userID int64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&userRow{})
	if result.Error != nil {
		return false, fmt.Errorf("delete user: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// SwapProgress writes next only while the stored progress equals expect.
func (s *Store) SwapProgress(ctx context.Context, userID int64, expect, next domain.Progress) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := next.ValidateTransition(expect); err != nil {
		return err
	}

	query := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ? AND current_step = ? AND step_sent_at = ? AND invite_pending = ?",
			userID, expect.CurrentStep, domain.UnixMillis(expect.StepSentAt), expect.InvitePending)
	if next.Claims() {
		query = query.Where("is_paid = ?", true)
	}

	result := query.Updates(map[string]any{
		"current_step":   next.CurrentStep,
		"step_sent_at":   domain.UnixMillis(next.StepSentAt),
		"invite_pending": next.InvitePending,
		"updated_at":     s.now(),
	})

	return s.checkUpdate(ctx, userID, result, "swap progress")
}

// ResetProgress moves the user back to the first step.
func (s *Store) ResetProgress(ctx context.Context, userID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"current_step":   0,
			"step_sent_at":   int64(0),
			"invite_pending": false,
			"updated_at":     s.now(),
		})

	return s.checkUpdate(ctx, userID, result, "reset progress")
}

// StartPayment records a pending payment for an unpaid user whose stored
// payment still matches expect.
func (s *Store) StartPayment(ctx context.Context, userID int64, expect domain.PaymentState, reference string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if reference == "" {
		return errors.New("payment reference is required")
	}

	result := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ? AND is_paid = ? AND payment_status = ? AND payment_reference = ?",
			userID, false, string(expect.Status), expect.Reference).
		Updates(map[string]any{
			"payment_status":    string(domain.PaymentPending),
			"payment_reference": reference,
			"updated_at":        s.now(),
		})

	return s.checkUpdate(ctx, userID, result, "start payment")
}

// ResolvePayment finalizes the pending payment identified by reference.
func (s *Store) ResolvePayment(ctx context.Context, userID int64, reference string, status domain.PaymentStatus) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	values := map[string]any{
		"payment_status": string(status),
		"updated_at":     s.now(),
	}
	if status == domain.PaymentSucceeded {
		values["is_paid"] = true
	}

	result := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ? AND payment_status = ? AND payment_reference = ?", userID, string(domain.PaymentPending), reference).
		Updates(values)

	return s.checkUpdate(ctx, userID, result, "resolve payment")
}

// SetAdmin toggles admin mode. Granting admin also grants paid access.
func (s *Store) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	values := map[string]any{
		"is_admin":   admin,
		"updated_at": s.now(),
	}
	if admin {
		values["is_paid"] = true
	}

	result := s.db.WithContext(ctx).Model(&userRow{}).Where("user_id = ?", userID).Updates(values)
	return s.checkUpdate(ctx, userID, result, "set admin")
}

// SetUploadMode toggles media reference echoing for the user.
func (s *Store) SetUploadMode(ctx context.Context, userID int64, enabled bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"is_upload_mode": enabled,
			"updated_at":     s.now(),
		})

	return s.checkUpdate(ctx, userID, result, "set upload mode")
}

// ListPendingPayments returns unpaid users with a pending payment.
func (s *Store) ListPendingPayments(ctx context.Context) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("payment_status = ? AND is_paid = ?", string(domain.PaymentPending), false)

	return listUsers(query, "list pending payments")
}

// ListInviteCandidates returns paid users without a pending invite that match
// the query.
func (s *Store) ListInviteCandidates(ctx context.Context, q domain.InviteQuery) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Where("is_paid = ? AND invite_pending = ? AND current_step < ?", true, false, q.StepBelow)
	if !q.SentBefore.IsZero() {
		query = query.Where("step_sent_at < ?", domain.UnixMillis(q.SentBefore))
	}
	if q.StepEquals != nil {
		query = query.Where("current_step = ?", *q.StepEquals)
	}
	if q.AdminsOnly {
		query = query.Where("is_admin = ?", true)
	}

	return listUsers(query, "list invite candidates")
}

// Stats summarizes the users table.
func (s *Store) Stats(ctx context.Context, catalogLen int) (domain.Stats, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Stats{}, err
	}

	var stats domain.Stats
	counters := []struct {
		name   string
		where  string
		args   []any
		target *int64
	}{
		{"users", "1 = 1", nil, &stats.Users},
		{"paid", "is_paid = ?", []any{true}, &stats.Paid},
		{"pending payments", "payment_status = ? AND is_paid = ?", []any{string(domain.PaymentPending), false}, &stats.PendingPayments},
		{"completed", "current_step >= ?", []any{catalogLen}, &stats.Completed},
		{"admins", "is_admin = ?", []any{true}, &stats.Admins},
	}

	for _, c := range counters {
		if err := s.db.WithContext(ctx).Model(&userRow{}).Where(c.where, c.args...).Count(c.target).Error; err != nil {
			return domain.Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
	}

	return stats, nil
}

func (s *Store) checkUpdate(ctx context.Context, userID int64, result *gorm.DB, op string) error {
	if result.Error != nil {
		return fmt.Errorf("%s: %w", op, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return domain.ErrUserNotFound
	}

	return fmt.Errorf("%s: %w", op, domain.ErrConflict)
}

func listUsers(query *gorm.DB, op string) ([]domain.User, error) {
	rows := make([]userRow, 0)
	if err := query.Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}

	return users, nil
}
