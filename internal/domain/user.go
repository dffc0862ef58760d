// Package domain defines the progress record, content and store contracts shared across the bot.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PaymentStatus mirrors the gateway lifecycle of a user's access payment.
type PaymentStatus string

const (
	PaymentUnset     PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	// PaymentUnknown is reported by gateways for statuses the bot does not act on.
	PaymentUnknown PaymentStatus = "unknown"
)

// User is the durable per-user progress record.
type User struct {
	ID               int64
	CurrentStep      int
	PaymentStatus    PaymentStatus
	PaymentReference string
	IsPaid           bool
	// StepSentAt is zero when unset.
	StepSentAt    time.Time
	InvitePending bool
	IsUploadMode  bool
	IsAdmin       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Progress is the subset of User fields guarded by conditional updates.
type Progress struct {
	CurrentStep   int
	StepSentAt    time.Time
	InvitePending bool
}

// Progress returns the gating fields of the user.
func (u User) Progress() Progress {
	return Progress{
		CurrentStep:   u.CurrentStep,
		StepSentAt:    u.StepSentAt,
		InvitePending: u.InvitePending,
	}
}

// PaymentState is the pair of payment fields a new payment must replace.
type PaymentState struct {
	Status    PaymentStatus
	Reference string
}

// PaymentState returns the payment fields of the user.
func (u User) PaymentState() PaymentState {
	return PaymentState{Status: u.PaymentStatus, Reference: u.PaymentReference}
}

// StepInFlight reports whether the current step was delivered and the user is
// waiting out the delay window.
func (u User) StepInFlight() bool {
	return !u.StepSentAt.IsZero()
}

// Completed reports whether the user has received every step of a catalog
// with the given length. Indices past the end count as completed.
func (u User) Completed(catalogLen int) bool {
	return u.CurrentStep >= catalogLen
}

// Equal compares progress values at the persisted (millisecond) precision.
func (p Progress) Equal(other Progress) bool {
	return p.CurrentStep == other.CurrentStep &&
		p.InvitePending == other.InvitePending &&
		UnixMillis(p.StepSentAt) == UnixMillis(other.StepSentAt)
}

// Claims reports whether writing p requires the user to be paid.
func (p Progress) Claims() bool {
	return !p.StepSentAt.IsZero() || p.InvitePending
}

// ValidateTransition checks that moving from expect to p keeps the record
// invariants: sent time and invite are exclusive, and the step index only
// advances by one at a time.
func (p Progress) ValidateTransition(expect Progress) error {
	if p.CurrentStep < 0 {
		return fmt.Errorf("%w: negative step %d", ErrInvalidProgress, p.CurrentStep)
	}
	if !p.StepSentAt.IsZero() && p.InvitePending {
		return fmt.Errorf("%w: step sent time and pending invite are exclusive", ErrInvalidProgress)
	}
	delta := p.CurrentStep - expect.CurrentStep
	if delta != 0 && delta != 1 {
		return fmt.Errorf("%w: step %d cannot follow %d", ErrInvalidProgress, p.CurrentStep, expect.CurrentStep)
	}
	return nil
}

// UnixMillis converts a timestamp to the persisted representation, where 0
// means unset.
func UnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMillis is the inverse of UnixMillis.
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Invoice is a payment created at the gateway.
type Invoice struct {
	Reference string
	URL       string
}

var (
	// ErrUserNotFound is returned when no record exists for a user id.
	ErrUserNotFound = errors.New("user not found")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("conditional update conflict")
	// ErrInvalidProgress is returned for transitions that would break the
	// record invariants.
	ErrInvalidProgress = errors.New("invalid progress transition")
)
