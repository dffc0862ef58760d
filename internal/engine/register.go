package engine

import (
	"context"
	"errors"
	"fmt"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

// Register handles first contact. New users are seeded paid or unpaid from
// the policy; unpaid users get a payment link. Re-contact is a read, except
// that an unpaid user without a pending payment gets a fresh link.
func (e *Engine) Register(ctx context.Context, userID int64) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	pol := e.policies.Current()

	var (
		user    domain.User
		created bool
	)
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		user, created, err = e.store.Register(ctx, domain.User{ID: userID, IsPaid: pol.CreatePaidUsers})
		return err
	})
	if err != nil {
		return Response{}, fmt.Errorf("register user: %w", err)
	}

	if created {
		e.userLogger(userID, "user_registered").WithField("is_paid", user.IsPaid).Info("user registered")
	}

	switch {
	case user.IsPaid && created:
		return textResponse(OutcomeRegistered, pol.Text(policy.MsgWelcome)), nil
	case user.IsPaid:
		return textResponse(OutcomeAlreadyRegistered, pol.Text(policy.MsgAlreadyRegistered)), nil
	case user.PaymentStatus == domain.PaymentPending:
		return textResponse(OutcomeAwaitingPayment, pol.Text(policy.MsgPaymentPending)), nil
	}

	return e.startPayment(ctx, user, pol)
}

func (e *Engine) startPayment(ctx context.Context, user domain.User, pol *policy.Policy) (Response, error) {
	logger := e.userLogger(user.ID, "")
	unavailable := textResponse(OutcomePaymentUnavailable, pol.Text(policy.MsgPaymentUnavailable))

	var invoice domain.Invoice
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		invoice, err = e.gateway.Create(ctx, user.ID)
		return err
	})
	if err != nil {
		logger.WithFields(logging.Fields{
			"event": "payment_create_failed",
			"error": err,
		}).Warn("failed to create payment")
		return unavailable, nil
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.store.StartPayment(ctx, user.ID, user.PaymentState(), invoice.Reference)
	})
	if errors.Is(err, domain.ErrConflict) {
		// Another /start recorded its payment first; that link stays the live one.
		logger.WithFields(logging.Fields{
			"event":       "payment_superseded",
			"payment_ref": invoice.Reference,
		}).Info("payment already started by a concurrent request")
		return e.afterPaymentConflict(ctx, user.ID, pol), nil
	}
	if err != nil {
		logger.WithFields(logging.Fields{
			"event":       "payment_record_failed",
			"payment_ref": invoice.Reference,
			"error":       err,
		}).Error("failed to record payment")
		return unavailable, fmt.Errorf("record payment: %w", err)
	}

	logger.WithFields(logging.Fields{
		"event":       "payment_started",
		"payment_ref": invoice.Reference,
	}).Info("payment started")

	return Response{
		Outcome: OutcomeAwaitingPayment,
		Text:    pol.Text(policy.MsgWelcome),
		Keyboard: [][]domain.Button{{
			{Text: pol.Text(policy.MsgPayButton), URL: invoice.URL},
		}},
	}, nil
}

// afterPaymentConflict answers a /start whose payment lost the race. The user
// is re-read so a payment confirmed in the meantime is reported as such.
func (e *Engine) afterPaymentConflict(ctx context.Context, userID int64, pol *policy.Policy) Response {
	user, err := e.getUser(ctx, userID)
	if err == nil && user.IsPaid {
		return textResponse(OutcomeAlreadyRegistered, pol.Text(policy.MsgAlreadyRegistered))
	}
	return textResponse(OutcomeAwaitingPayment, pol.Text(policy.MsgPaymentPending))
}
