package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

type pullResult struct {
	response Response
	err      error
}

// Pull delivers the user's current step on demand. Concurrent pulls for the
// same user share one delivery; only the caller that ran it gets the reply,
// the others get a silent OutcomeInFlight. On full delivery the step index
// advances and the delay window starts; on any item failure progress is
// unchanged and the returned error wraps ErrDeliveryFailed.
func (e *Engine) Pull(ctx context.Context, userID int64) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	led := false
	v, _, _ := e.pulls.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		led = true
		response, err := e.pull(ctx, userID)
		return pullResult{response: response, err: err}, nil
	})
	if !led {
		return Response{Outcome: OutcomeInFlight}, nil
	}
	result := v.(pullResult)

	return result.response, result.err
}

func (e *Engine) pull(ctx context.Context, userID int64) (Response, error) {
	ctx, span := tracer.Start(ctx, "engine.pull", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	pol := e.policies.Current()
	cat := e.catalogs.Current()

	user, err := e.getUser(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return textResponse(OutcomeNotRegistered, pol.Text(policy.MsgNotRegistered)), nil
	}
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("load user: %w", err)
	}

	switch {
	case !user.IsPaid:
		return textResponse(OutcomeNotPaid, pol.Text(policy.MsgNotPaid)), nil
	case user.Completed(cat.Len()):
		return textResponse(OutcomeCompleted, pol.Text(policy.MsgScriptCompleted)), nil
	case user.StepInFlight():
		return textResponse(OutcomeInFlight, pol.Text(policy.MsgStepSent)), nil
	}

	step, _ := cat.Step(user.CurrentStep)
	stepNumber := strconv.Itoa(user.CurrentStep + 1)
	span.SetAttributes(attribute.Int("step.index", user.CurrentStep))

	if failed := e.deliverStep(ctx, userID, user.CurrentStep, step); failed > 0 {
		e.userLogger(userID, "step_delivery_failed").WithFields(logging.Fields{
			"step":   user.CurrentStep,
			"failed": failed,
			"items":  len(step.Content),
		}).Warn("step delivery incomplete, progress unchanged")

		err := fmt.Errorf("%w: %d of %d items failed", ErrDeliveryFailed, failed, len(step.Content))
		span.RecordError(err)
		return textResponse(OutcomeFailed, pol.Render(policy.MsgStepSendError, map[string]string{
			"step_number": stepNumber,
		})), err
	}

	now := e.now()
	expect := user.Progress()
	next := domain.Progress{CurrentStep: user.CurrentStep + 1, StepSentAt: now}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.store.SwapProgress(ctx, userID, expect, next)
	})
	switch {
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrUserNotFound):
		e.userLogger(userID, "pull_conflict").WithField("step", user.CurrentStep).Info("progress changed during delivery")
		return textResponse(OutcomeConflict, pol.Text(policy.MsgStepSent)), nil
	case err != nil:
		span.RecordError(err)
		return Response{}, fmt.Errorf("record delivery: %w", err)
	}

	e.userLogger(userID, "step_delivered").WithFields(logging.Fields{
		"step":    user.CurrentStep,
		"trigger": "pull",
	}).Info("step delivered")

	if next.CurrentStep >= cat.Len() {
		e.userLogger(userID, "script_completed").Info("user completed the catalog")
		return textResponse(OutcomeCompleted, pol.Text(policy.MsgScriptCompleted)), nil
	}

	label, err := pol.Delay.NextEligibleLabel(now)
	if err != nil {
		e.userLogger(userID, "policy_invalid").WithField("error", err).Error("cannot compute next step time")
		return textResponse(OutcomeDelivered, pol.Text(policy.MsgStepSent)), nil
	}

	return textResponse(OutcomeDelivered, pol.Render(policy.MsgNextStepTimeout, map[string]string{
		"time": label,
	})), nil
}
