package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/policy"
)

// Reset moves the user back to the first step.
func (e *Engine) Reset(ctx context.Context, userID int64) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	pol := e.policies.Current()
	err := e.call(ctx, func(ctx context.Context) error {
		return e.store.ResetProgress(ctx, userID)
	})
	if errors.Is(err, domain.ErrUserNotFound) {
		return textResponse(OutcomeNotRegistered, pol.Text(policy.MsgNotRegistered)), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("reset progress: %w", err)
	}

	e.userLogger(userID, "progress_reset").Info("progress reset")
	return textResponse(OutcomeDone, pol.Text(policy.MsgProgressReset)), nil
}

// Erase deletes the user record. Erasing an unknown user succeeds.
func (e *Engine) Erase(ctx context.Context, userID int64) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	var existed bool
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		existed, err = e.store.Delete(ctx, userID)
		return err
	})
	if err != nil {
		return Response{}, fmt.Errorf("erase user: %w", err)
	}

	e.userLogger(userID, "user_erased").WithField("existed", existed).Info("user data erased")
	return textResponse(OutcomeDone, e.policies.Current().Text(policy.MsgDataDeleted)), nil
}

// Login grants admin mode when password matches the configured one.
func (e *Engine) Login(ctx context.Context, userID int64, password string) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	pol := e.policies.Current()
	if _, err := e.getUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return textResponse(OutcomeNotRegistered, pol.Text(policy.MsgNotRegistered)), nil
		}
		return Response{}, fmt.Errorf("load user: %w", err)
	}

	if !e.passwordMatches(password) {
		e.userLogger(userID, "admin_login_rejected").Warn("admin login rejected")
		return textResponse(OutcomeNotAdmin, pol.Text(policy.MsgNotAdmin)), nil
	}

	if err := e.call(ctx, func(ctx context.Context) error {
		return e.store.SetAdmin(ctx, userID, true)
	}); err != nil {
		return Response{}, fmt.Errorf("grant admin: %w", err)
	}

	e.userLogger(userID, "admin_login").Info("admin mode enabled")
	return textResponse(OutcomeDone, pol.Text(policy.MsgLoginSuccessful)), nil
}

func (e *Engine) passwordMatches(password string) bool {
	if e.adminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(password)), []byte(e.adminPassword)) == 1
}

// Logout revokes admin mode. Paid access is kept.
func (e *Engine) Logout(ctx context.Context, userID int64) (Response, error) {
	_, pol, denied, err := e.requireAdmin(ctx, userID)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	if err := e.call(ctx, func(ctx context.Context) error {
		return e.store.SetAdmin(ctx, userID, false)
	}); err != nil {
		return Response{}, fmt.Errorf("revoke admin: %w", err)
	}

	e.userLogger(userID, "admin_logout").Info("admin mode disabled")
	return textResponse(OutcomeDone, pol.Text(policy.MsgLogoutSuccessful)), nil
}

// ToggleUpload flips upload mode for an admin.
func (e *Engine) ToggleUpload(ctx context.Context, userID int64) (Response, error) {
	user, pol, denied, err := e.requireAdmin(ctx, userID)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	enabled := !user.IsUploadMode
	if err := e.call(ctx, func(ctx context.Context) error {
		return e.store.SetUploadMode(ctx, userID, enabled)
	}); err != nil {
		return Response{}, fmt.Errorf("set upload mode: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	e.userLogger(userID, "upload_mode_changed").WithField("enabled", enabled).Info("upload mode changed")

	return textResponse(OutcomeDone, pol.Render(policy.MsgUploadMode, map[string]string{"state": state})), nil
}

// EchoUploads replies with the references of uploaded media when the user
// is an admin in upload mode. Anyone else gets the generic reply.
func (e *Engine) EchoUploads(ctx context.Context, userID int64, items []domain.ContentItem) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}

	user, err := e.getUser(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return Response{}, fmt.Errorf("load user: %w", err)
	}
	if err != nil || !user.IsAdmin || !user.IsUploadMode {
		return e.Reply(ctx, userID)
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsText() || item.Reference == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", item.Kind, item.Reference))
	}
	if len(lines) == 0 {
		return Response{Outcome: OutcomeNone}, nil
	}

	return textResponse(OutcomeDone, strings.Join(lines, "\n")), nil
}

// AdminMenu returns a step picker keyboard for admins.
func (e *Engine) AdminMenu(ctx context.Context, userID int64) (Response, error) {
	_, pol, denied, err := e.requireAdmin(ctx, userID)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	steps := e.catalogs.Current().Steps()
	var rows [][]domain.Button
	for start := 0; start < len(steps); start += adminMenuColumns {
		row := make([]domain.Button, 0, adminMenuColumns)
		for i := start; i < start+adminMenuColumns; i++ {
			if i < len(steps) {
				row = append(row, domain.Button{
					Text: fmt.Sprintf("%d. %s", i+1, steps[i].Title),
					Data: CallbackAdminStepPrefix + strconv.Itoa(i),
				})
				continue
			}
			row = append(row, domain.Button{Text: " ", Data: CallbackEmpty})
		}
		rows = append(rows, row)
	}

	return Response{Outcome: OutcomeDone, Text: pol.Text(policy.MsgAdminMenu), Keyboard: rows}, nil
}

// AdminStep delivers any step to an admin without touching progress.
func (e *Engine) AdminStep(ctx context.Context, userID int64, index int) (Response, error) {
	_, pol, denied, err := e.requireAdmin(ctx, userID)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	step, ok := e.catalogs.Current().Step(index)
	if !ok {
		return textResponse(OutcomeCompleted, pol.Text(policy.MsgScriptCompleted)), nil
	}

	if failed := e.deliverStep(ctx, userID, index, step); failed > 0 {
		err := fmt.Errorf("%w: %d of %d items failed", ErrDeliveryFailed, failed, len(step.Content))
		return textResponse(OutcomeFailed, pol.Render(policy.MsgStepSendError, map[string]string{
			"step_number": strconv.Itoa(index + 1),
		})), err
	}

	e.userLogger(userID, "step_delivered").WithFields(logging.Fields{
		"step":    index,
		"trigger": "admin_menu",
	}).Info("step delivered")

	return Response{Outcome: OutcomeDelivered}, nil
}

// Stats summarizes the user base for admins.
func (e *Engine) Stats(ctx context.Context, userID int64) (Response, error) {
	_, pol, denied, err := e.requireAdmin(ctx, userID)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	var stats domain.Stats
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		stats, err = e.store.Stats(ctx, e.catalogs.Current().Len())
		return err
	})
	if err != nil {
		return Response{}, fmt.Errorf("collect stats: %w", err)
	}

	return textResponse(OutcomeDone, pol.Render(policy.MsgStats, map[string]string{
		"users":     strconv.FormatInt(stats.Users, 10),
		"paid":      strconv.FormatInt(stats.Paid, 10),
		"pending":   strconv.FormatInt(stats.PendingPayments, 10),
		"completed": strconv.FormatInt(stats.Completed, 10),
		"admins":    strconv.FormatInt(stats.Admins, 10),
	})), nil
}

// Reply answers free text that is not a command.
func (e *Engine) Reply(ctx context.Context, userID int64) (Response, error) {
	if err := e.ready(ctx); err != nil {
		return Response{}, err
	}
	return textResponse(OutcomeNone, e.policies.Current().Text(policy.MsgOnMessage)), nil
}

// requireAdmin loads the user and returns a non-nil denied response when
// the user is missing or not an admin.
func (e *Engine) requireAdmin(ctx context.Context, userID int64) (domain.User, *policy.Policy, *Response, error) {
	if err := e.ready(ctx); err != nil {
		return domain.User{}, nil, nil, err
	}

	pol := e.policies.Current()
	user, err := e.getUser(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		denied := textResponse(OutcomeNotRegistered, pol.Text(policy.MsgNotRegistered))
		return domain.User{}, pol, &denied, nil
	}
	if err != nil {
		return domain.User{}, pol, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsAdmin {
		denied := textResponse(OutcomeNotAdmin, pol.Text(policy.MsgNotAdmin))
		return user, pol, &denied, nil
	}

	return user, pol, nil, nil
}

func deref(r *Response) Response {
	if r == nil {
		return Response{}
	}
	return *r
}
