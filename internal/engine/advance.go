package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"stepbystep_bot/internal/catalog"
	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

const (
	triggerDue   = "due"
	triggerAdmin = "admin"
)

// Advance runs one advancement tick: the due pass followed by the admin
// pass. A failing pass does not prevent the other from running.
func (e *Engine) Advance(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	return errors.Join(e.InviteDue(ctx), e.InviteAdmins(ctx))
}

// InviteDue invites every paid user whose delay window has elapsed under
// the current policy. Before a fixed-time anchor passes only users at the
// first step are invited.
func (e *Engine) InviteDue(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "engine.invite_due")
	defer span.End()

	pol := e.policies.Current()
	cat := e.catalogs.Current()

	plan, err := pol.Delay.Plan(e.now())
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"event": "advance_skipped",
			"error": err,
		}).Error("delay policy is invalid, skipping due pass")
		span.RecordError(err)
		return fmt.Errorf("plan due pass: %w", err)
	}

	query := domain.InviteQuery{StepBelow: cat.Len()}
	if plan.ZeroStepOnly {
		first := 0
		query.StepEquals = &first
	} else {
		query.SentBefore = plan.SentBefore
	}

	sent, err := e.invitePass(ctx, query, cat, pol, triggerDue)
	span.SetAttributes(attribute.Int("invites.sent", sent), attribute.Bool("invites.zero_step_only", plan.ZeroStepOnly))
	return err
}

// InviteAdmins invites every admin without a pending invite regardless of
// the delay policy.
func (e *Engine) InviteAdmins(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "engine.invite_admins")
	defer span.End()

	cat := e.catalogs.Current()
	sent, err := e.invitePass(ctx, domain.InviteQuery{StepBelow: cat.Len(), AdminsOnly: true}, cat, e.policies.Current(), triggerAdmin)
	span.SetAttributes(attribute.Int("invites.sent", sent))
	return err
}

func (e *Engine) invitePass(ctx context.Context, query domain.InviteQuery, cat *catalog.Catalog, pol *policy.Policy, trigger string) (int, error) {
	if cat.Len() == 0 {
		return 0, nil
	}

	var candidates []domain.User
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = e.store.ListInviteCandidates(ctx, query)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list invite candidates: %w", err)
	}

	sent := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return sent, nil
		}
		if e.invite(ctx, candidate, cat, pol, trigger) {
			sent++
		}
	}

	return sent, nil
}

// invite sends the invite for the candidate's current step and marks it
// pending. The record is re-read first so that progress made since the scan
// is respected.
func (e *Engine) invite(ctx context.Context, candidate domain.User, cat *catalog.Catalog, pol *policy.Policy, trigger string) bool {
	logger := logging.Scope{UserID: candidate.ID, Trigger: trigger}.On(e.logger)

	user, err := e.getUser(ctx, candidate.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			logger.WithFields(logging.Fields{
				"event": "invite_failed",
				"error": err,
			}).Warn("failed to reload user before invite")
		}
		return false
	}
	if !user.IsPaid || user.InvitePending || !user.Progress().Equal(candidate.Progress()) {
		logger.Debug("progress changed since scan, skipping invite")
		return false
	}

	step, ok := cat.Step(user.CurrentStep)
	if !ok {
		return false
	}

	msg := domain.Message{
		UserID: user.ID,
		Text: pol.Render(policy.MsgStepInvite, map[string]string{
			"title":       step.Title,
			"description": step.Description,
			"step_number": strconv.Itoa(user.CurrentStep + 1),
		}),
		Keyboard: [][]domain.Button{{
			{Text: pol.Text(policy.MsgNextStepButton), Data: CallbackGetStep},
		}},
	}
	if err := e.send(ctx, msg); err != nil {
		logger.WithFields(logging.Fields{
			"event": "invite_failed",
			"step":  user.CurrentStep,
			"error": err,
		}).Warn("failed to send step invite, will retry")
		return false
	}

	next := domain.Progress{CurrentStep: user.CurrentStep, InvitePending: true}
	err = e.call(ctx, func(ctx context.Context) error {
		return e.store.SwapProgress(ctx, user.ID, user.Progress(), next)
	})
	switch {
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrUserNotFound):
		logger.WithField("step", user.CurrentStep).Debug("progress changed while inviting")
		return false
	case err != nil:
		logger.WithFields(logging.Fields{
			"event": "invite_record_failed",
			"step":  user.CurrentStep,
			"error": err,
		}).Error("failed to record step invite")
		return false
	}

	logger.WithFields(logging.Fields{
		"event": "invite_sent",
		"step":  user.CurrentStep,
	}).Info("step invite sent")

	return true
}
