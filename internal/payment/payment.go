// Package payment defines the gateway contract and the loop body that
// reconciles pending payments with the gateway.
package payment

import (
	"context"
	"errors"

	"stepbystep_bot/internal/domain"
)

// ErrPaymentsDisabled is returned by the Disabled gateway.
var ErrPaymentsDisabled = errors.New("payments are disabled")

// Gateway creates payments and reports their status.
type Gateway interface {
	Create(ctx context.Context, userID int64) (domain.Invoice, error)
	Status(ctx context.Context, reference string) (domain.PaymentStatus, error)
}

// Disabled is the gateway used when no credentials are configured.
type Disabled struct{}

// Create always fails with ErrPaymentsDisabled.
func (Disabled) Create(context.Context, int64) (domain.Invoice, error) {
	return domain.Invoice{}, ErrPaymentsDisabled
}

// Status always fails with ErrPaymentsDisabled.
func (Disabled) Status(context.Context, string) (domain.PaymentStatus, error) {
	return domain.PaymentUnknown, ErrPaymentsDisabled
}
