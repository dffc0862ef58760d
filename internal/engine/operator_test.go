package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepbystep_bot/internal/domain"
)

func adminUser(id int64) domain.User {
	return domain.User{ID: id, IsPaid: true, IsAdmin: true}
}

func TestResetReturnsUserToFirstStep(t *testing.T) {
	user := paidUser(1, 2, baseTime)
	h := newHarness(t, 3, periodPolicy(time.Hour), user)

	resp, err := h.engine.Reset(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, resp.Outcome)

	stored := h.store.user(1)
	assert.Equal(t, 0, stored.CurrentStep)
	assert.True(t, stored.StepSentAt.IsZero())
	assert.False(t, stored.InvitePending)
	assert.True(t, stored.IsPaid)

	resp, err = h.engine.Reset(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotRegistered, resp.Outcome)
}

func TestEraseIsIdempotent(t *testing.T) {
	h := newHarness(t, 3, periodPolicy(time.Hour), paidUser(1, 1, baseTime))

	for i := 0; i < 2; i++ {
		resp, err := h.engine.Erase(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDone, resp.Outcome)
	}

	_, err := h.store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	resp, err := h.engine.Pull(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotRegistered, resp.Outcome)
}

func TestLoginAndLogout(t *testing.T) {
	h := newHarness(t, 3, periodPolicy(time.Hour), domain.User{ID: 1})

	resp, err := h.engine.Login(context.Background(), 1, "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAdmin, resp.Outcome)
	assert.False(t, h.store.user(1).IsAdmin)

	resp, err = h.engine.Login(context.Background(), 1, " letmein ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, resp.Outcome)
	stored := h.store.user(1)
	assert.True(t, stored.IsAdmin)
	assert.True(t, stored.IsPaid)

	resp, err = h.engine.Logout(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, resp.Outcome)
	stored = h.store.user(1)
	assert.False(t, stored.IsAdmin)
	assert.True(t, stored.IsPaid, "paid access survives logout")

	resp, err = h.engine.Logout(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAdmin, resp.Outcome)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	h := newHarness(t, 3, periodPolicy(time.Hour), domain.User{ID: 1})
	h.engine.adminPassword = ""

	resp, err := h.engine.Login(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAdmin, resp.Outcome)
}

func TestAdminMenuPadsLastRow(t *testing.T) {
	h := newHarness(t, 4, periodPolicy(time.Hour), adminUser(1))

	resp, err := h.engine.AdminMenu(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, resp.Keyboard, 2)
	require.Len(t, resp.Keyboard[1], 3)

	assert.Equal(t, domain.Button{Text: "1. Lesson 1", Data: "admin_get_step=0"}, resp.Keyboard[0][0])
	assert.Equal(t, domain.Button{Text: "4. Lesson 4", Data: "admin_get_step=3"}, resp.Keyboard[1][0])
	assert.Equal(t, domain.Button{Text: " ", Data: CallbackEmpty}, resp.Keyboard[1][2])
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	h := newHarness(t, 3, periodPolicy(time.Hour), paidUser(1, 0, time.Time{}))

	calls := map[string]func() (Response, error){
		"menu":   func() (Response, error) { return h.engine.AdminMenu(context.Background(), 1) },
		"step":   func() (Response, error) { return h.engine.AdminStep(context.Background(), 1, 0) },
		"stats":  func() (Response, error) { return h.engine.Stats(context.Background(), 1) },
		"upload": func() (Response, error) { return h.engine.ToggleUpload(context.Background(), 1) },
	}
	for name, call := range calls {
		resp, err := call()
		require.NoError(t, err, name)
		assert.Equal(t, OutcomeNotAdmin, resp.Outcome, name)
	}
	assert.Zero(t, h.delivery.attemptCount())
}

func TestAdminStepKeepsProgress(t *testing.T) {
	admin := adminUser(1)
	admin.CurrentStep = 1
	h := newHarness(t, 3, periodPolicy(time.Hour), admin)

	resp, err := h.engine.AdminStep(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, resp.Outcome)
	assert.Equal(t, 2, h.delivery.itemCount())
	assert.Equal(t, admin, h.store.user(1))

	resp, err = h.engine.AdminStep(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, resp.Outcome)
}

func TestUploadModeEchoesReferences(t *testing.T) {
	h := newHarness(t, 3, periodPolicy(time.Hour), adminUser(1), paidUser(2, 0, time.Time{}))
	uploads := []domain.ContentItem{
		domain.MediaItem(domain.MediaPhoto, "AgACAgIAAx", ""),
		domain.MediaItem(domain.MediaVideoNote, "DQACAgIAAx", ""),
	}

	resp, err := h.engine.EchoUploads(context.Background(), 1, uploads)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, resp.Outcome, "upload mode is off")

	resp, err = h.engine.ToggleUpload(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "enabled")
	assert.True(t, h.store.user(1).IsUploadMode)

	resp, err = h.engine.EchoUploads(context.Background(), 1, uploads)
	require.NoError(t, err)
	assert.Equal(t, "photo: AgACAgIAAx\nvideo_note: DQACAgIAAx", resp.Text)

	resp, err = h.engine.EchoUploads(context.Background(), 2, uploads)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "can't answer")
}

func TestStatsSummarizesUsers(t *testing.T) {
	pending := domain.User{ID: 3, PaymentStatus: domain.PaymentPending, PaymentReference: "p"}
	h := newHarness(t, 2, periodPolicy(time.Hour), adminUser(1), paidUser(2, 2, baseTime), pending)

	resp, err := h.engine.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Users: 3\nPaid: 2\nPending payments: 1\nCompleted: 1\nAdmins: 1", resp.Text)
}

func TestReplyUsesSupportContact(t *testing.T) {
	pol := periodPolicy(time.Hour)
	pol.SupportContact = "@support"
	h := newHarness(t, 1, pol)

	resp, err := h.engine.Reply(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "@support")
}
