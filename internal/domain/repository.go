package domain

import (
	"context"
	"time"
)

// InviteQuery selects users eligible for a step invite. Every query is
// implicitly restricted to paid users without a pending invite.
type InviteQuery struct {
	// StepBelow excludes users whose step index is >= StepBelow.
	StepBelow int
	// SentBefore, when set, keeps users whose step_sent_at is before it.
	// An unset step_sent_at counts as before any time.
	SentBefore time.Time
	// StepEquals, when non-nil, keeps users at exactly that step.
	StepEquals *int
	// AdminsOnly keeps admin users only.
	AdminsOnly bool
}

// ProgressStore is the User Progress Store. Every mutation of gating fields
// goes through a conditional update.
type ProgressStore interface {
	// Register inserts seed if no record exists for seed.ID and returns the
	// stored record and whether it was created.
	Register(ctx context.Context, seed User) (User, bool, error)
	Get(ctx context.Context, userID int64) (User, error)
	// Delete removes the record; deleting a missing user is not an error.
	Delete(ctx context.Context, userID int64) (bool, error)

	// SwapProgress applies next only if the stored progress still equals
	// expect. It returns ErrConflict when the guard fails.
	SwapProgress(ctx context.Context, userID int64, expect, next Progress) error
	ResetProgress(ctx context.Context, userID int64) error

	// StartPayment records a new pending payment for an unpaid user whose
	// stored payment still equals expect. It returns ErrConflict otherwise.
	StartPayment(ctx context.Context, userID int64, expect PaymentState, reference string) error
	// ResolvePayment moves a pending payment with the given reference to a
	// final status. PaymentSucceeded also marks the user paid.
	ResolvePayment(ctx context.Context, userID int64, reference string, status PaymentStatus) error

	// SetAdmin toggles admin mode; granting admin also grants paid access.
	SetAdmin(ctx context.Context, userID int64, admin bool) error
	SetUploadMode(ctx context.Context, userID int64, enabled bool) error

	ListPendingPayments(ctx context.Context) ([]User, error)
	ListInviteCandidates(ctx context.Context, query InviteQuery) ([]User, error)

	Stats(ctx context.Context, catalogLen int) (Stats, error)
}

// LogWriter appends audit trail entries.
type LogWriter interface {
	AppendLog(ctx context.Context, entry LogEntry) error
}

// LogReader lists audit trail entries.
type LogReader interface {
	ListLogs(ctx context.Context, query LogQuery) ([]LogEntry, error)
}

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
