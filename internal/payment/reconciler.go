package payment

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

const (
	// DefaultCheckPause spaces gateway calls to respect its rate limits.
	DefaultCheckPause = time.Second
	// DefaultCallTimeout bounds each gateway and delivery call.
	DefaultCallTimeout = 10 * time.Second
)

var tracer = otel.Tracer("stepbystep_bot/internal/payment")

type paymentStore interface {
	ListPendingPayments(ctx context.Context) ([]domain.User, error)
	ResolvePayment(ctx context.Context, userID int64, reference string, status domain.PaymentStatus) error
}

// Messenger sends plain chat messages.
type Messenger interface {
	SendMessage(ctx context.Context, msg domain.Message) error
}

// PolicySource exposes the current policy snapshot.
type PolicySource interface {
	Current() *policy.Policy
}

// Reconciler moves users out of the pending payment state once the gateway
// reports a final status.
type Reconciler struct {
	store     paymentStore
	gateway   Gateway
	messenger Messenger
	policies  PolicySource
	logger    *logrus.Entry
	pause     time.Duration
	timeout   time.Duration
	wait      func(ctx context.Context, d time.Duration) error
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithCheckPause sets the pause between two gateway checks.
func WithCheckPause(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d >= 0 {
			r.pause = d
		}
	}
}

// WithCallTimeout bounds each external call.
func WithCallTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *logrus.Entry) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler builds a Reconciler.
func NewReconciler(store paymentStore, gateway Gateway, messenger Messenger, policies PolicySource, opts ...ReconcilerOption) (*Reconciler, error) {
	if store == nil || gateway == nil || messenger == nil || policies == nil {
		return nil, errors.New("reconciler dependencies are required")
	}

	r := &Reconciler{
		store:     store,
		gateway:   gateway,
		messenger: messenger,
		policies:  policies,
		logger:    logging.Logger(),
		pause:     DefaultCheckPause,
		timeout:   DefaultCallTimeout,
		wait:      sleep,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Sweep checks every pending payment once, pausing between checks. A failed
// check leaves the user pending for the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if r == nil {
		return errors.New("reconciler is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	ctx, span := tracer.Start(ctx, "payment.sweep")
	defer span.End()

	var users []domain.User
	err := r.bounded(ctx, func(ctx context.Context) error {
		var err error
		users, err = r.store.ListPendingPayments(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("payment.pending", len(users)))

	for i, user := range users {
		if i > 0 {
			if err := r.wait(ctx, r.pause); err != nil {
				return nil
			}
		}
		r.check(ctx, user)
	}

	return nil
}

func (r *Reconciler) check(ctx context.Context, user domain.User) {
	logger := r.logger.WithFields(logging.Fields{
		"user_id":     user.ID,
		"payment_ref": user.PaymentReference,
	})

	var status domain.PaymentStatus
	err := r.bounded(ctx, func(ctx context.Context) error {
		var err error
		status, err = r.gateway.Status(ctx, user.PaymentReference)
		return err
	})
	if err != nil {
		logger.WithFields(logging.Fields{
			"event": "payment_check_failed",
			"error": err,
		}).Warn("payment status check failed, will retry")
		return
	}

	var event, template string
	switch status {
	case domain.PaymentSucceeded:
		event, template = "payment_confirmed", policy.MsgPaymentSuccessful
	case domain.PaymentCanceled:
		event, template = "payment_canceled", policy.MsgPaymentCanceled
	default:
		logger.WithField("status", string(status)).Debug("payment still pending")
		return
	}

	err = r.bounded(ctx, func(ctx context.Context) error {
		return r.store.ResolvePayment(ctx, user.ID, user.PaymentReference, status)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrUserNotFound) {
			logger.WithField("error", err).Debug("payment already resolved")
			return
		}
		logger.WithFields(logging.Fields{
			"event": "payment_resolve_failed",
			"error": err,
		}).Error("failed to record payment status")
		return
	}

	logger.WithFields(logging.Fields{
		"event":  event,
		"status": string(status),
	}).Info("payment resolved")

	msg := domain.Message{UserID: user.ID, Text: r.policies.Current().Text(template)}
	err = r.bounded(ctx, func(ctx context.Context) error {
		return r.messenger.SendMessage(ctx, msg)
	})
	if err != nil {
		logger.WithFields(logging.Fields{
			"event": "notification_failed",
			"error": err,
		}).Warn("failed to notify user about payment")
	}
}

// bounded runs fn under the per-call timeout.
func (r *Reconciler) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return fn(callCtx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
