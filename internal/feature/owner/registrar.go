// Package owner provides startup helpers for ensuring the configured bot owner
// exists with admin mode and paid access.
package owner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
)

type ownerStore interface {
	Register(ctx context.Context, seed domain.User) (domain.User, bool, error)
	SetAdmin(ctx context.Context, userID int64, admin bool) error
}

// Registrar bootstraps the configured bot owner record.
type Registrar struct {
	users  ownerStore
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided user store.
func NewRegistrar(users ownerStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		logger: logger,
	}
}

// EnsureOwner registers ownerID as a paid admin, promoting an existing record
// when needed. Progress of an existing owner is kept.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) error {
	if r == nil || r.users == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if ownerID == 0 {
		return errors.New("owner id is required")
	}

	user, created, err := r.users.Register(ctx, domain.User{ID: ownerID, IsPaid: true, IsAdmin: true})
	if err != nil {
		return fmt.Errorf("register owner: %w", err)
	}

	promoted := false
	if !user.IsAdmin || !user.IsPaid {
		if err := r.users.SetAdmin(ctx, ownerID, true); err != nil {
			return fmt.Errorf("promote owner: %w", err)
		}
		promoted = true
	}

	r.logger.WithFields(logging.Fields{
		"event":    "owner_bootstrap",
		"owner_id": ownerID,
		"created":  created,
		"promoted": promoted,
	}).Info("ensured bot owner")

	return nil
}
