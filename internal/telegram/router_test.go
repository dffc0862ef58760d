package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/engine"
)

type engineCall struct {
	op    string
	user  int64
	arg   string
	index int
	items []domain.ContentItem
}

type fakeEngine struct {
	calls []engineCall
	resp  engine.Response
	err   error
}

func (f *fakeEngine) record(call engineCall) (engine.Response, error) {
	f.calls = append(f.calls, call)
	return f.resp, f.err
}

func (f *fakeEngine) Register(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "register", user: id})
}

func (f *fakeEngine) Pull(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "pull", user: id})
}

func (f *fakeEngine) Reset(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "reset", user: id})
}

func (f *fakeEngine) Erase(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "erase", user: id})
}

func (f *fakeEngine) Login(_ context.Context, id int64, password string) (engine.Response, error) {
	return f.record(engineCall{op: "login", user: id, arg: password})
}

func (f *fakeEngine) Logout(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "logout", user: id})
}

func (f *fakeEngine) ToggleUpload(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "upload", user: id})
}

func (f *fakeEngine) EchoUploads(_ context.Context, id int64, items []domain.ContentItem) (engine.Response, error) {
	return f.record(engineCall{op: "echo", user: id, items: items})
}

func (f *fakeEngine) AdminMenu(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "menu", user: id})
}

func (f *fakeEngine) AdminStep(_ context.Context, id int64, index int) (engine.Response, error) {
	return f.record(engineCall{op: "admin_step", user: id, index: index})
}

func (f *fakeEngine) Stats(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "stats", user: id})
}

func (f *fakeEngine) Reply(_ context.Context, id int64) (engine.Response, error) {
	return f.record(engineCall{op: "reply", user: id})
}

type fakeResponder struct {
	messages []domain.Message
	answers  []answer
}

type answer struct {
	id    string
	text  string
	alert bool
}

func (f *fakeResponder) SendMessage(_ context.Context, msg domain.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeResponder) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	f.answers = append(f.answers, answer{id: id, text: text, alert: alert})
	return nil
}

func newTestRouter(t *testing.T, e *fakeEngine) (*Router, *fakeResponder, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	resp := &fakeResponder{}
	r, err := NewRouter(e, resp, logrus.NewEntry(logger))
	require.NoError(t, err)
	return r, resp, hook
}

func privateMessage(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
		Text: text,
	}}
}

func callback(userID int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: userID},
		Data: data,
	}}
}

func lastEvent(hook *logtest.Hook) logrus.Fields {
	if entry := hook.LastEntry(); entry != nil {
		return entry.Data
	}
	return nil
}

func TestRouterCommands(t *testing.T) {
	cases := map[string]engineCall{
		"/start":             {op: "register", user: 1},
		"/reset":             {op: "reset", user: 1},
		"/delete_me":         {op: "erase", user: 1},
		"/login secret":      {op: "login", user: 1, arg: "secret"},
		"/logout":            {op: "logout", user: 1},
		"/upload":            {op: "upload", user: 1},
		"/get_step@step_bot": {op: "menu", user: 1},
		"/STATS":             {op: "stats", user: 1},
		"/unknown":           {op: "reply", user: 1},
		"hello there":        {op: "reply", user: 1},
	}

	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			e := &fakeEngine{resp: engine.Response{Text: "ok"}}
			r, resp, _ := newTestRouter(t, e)

			r.Handle(context.Background(), privateMessage(1, text))

			require.Len(t, e.calls, 1)
			assert.Equal(t, want, e.calls[0])
			require.Len(t, resp.messages, 1)
			assert.Equal(t, domain.Message{UserID: 1, Text: "ok"}, resp.messages[0])
		})
	}
}

func TestRouterIgnoresGroupChats(t *testing.T) {
	e := &fakeEngine{}
	r, _, _ := newTestRouter(t, e)

	update := privateMessage(1, "/start")
	update.Message.Chat.Type = models.ChatTypeGroup
	r.Handle(context.Background(), update)

	assert.Empty(t, e.calls, "group messages are ignored")
}

func TestRouterEchoesUploads(t *testing.T) {
	e := &fakeEngine{}
	r, _, _ := newTestRouter(t, e)

	update := privateMessage(1, "")
	update.Message.Photo = []models.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	update.Message.Caption = "cover"
	update.Message.Document = &models.Document{FileID: "doc"}
	r.Handle(context.Background(), update)

	require.Len(t, e.calls, 1)
	assert.Equal(t, "echo", e.calls[0].op)

	items := e.calls[0].items
	require.Len(t, items, 2)
	assert.Equal(t, "large", items[0].Reference, "largest photo size wins")
	assert.Equal(t, "cover", items[0].Caption)
	assert.Equal(t, domain.MediaDocument, items[1].Kind)
}

func TestRouterPullCallback(t *testing.T) {
	e := &fakeEngine{resp: engine.Response{Outcome: engine.OutcomeDelivered, Text: "next at 09:00 MSK"}}
	r, resp, _ := newTestRouter(t, e)

	r.Handle(context.Background(), callback(3, engine.CallbackGetStep))

	require.Len(t, e.calls, 1)
	assert.Equal(t, "pull", e.calls[0].op)
	require.Len(t, resp.answers, 1)
	assert.False(t, resp.answers[0].alert, "success answers silently")
	require.Len(t, resp.messages, 1)
	assert.Equal(t, "next at 09:00 MSK", resp.messages[0].Text)
}

func TestRouterPullFailureAlerts(t *testing.T) {
	e := &fakeEngine{
		resp: engine.Response{Outcome: engine.OutcomeFailed, Text: "retry lesson 2"},
		err:  engine.ErrDeliveryFailed,
	}
	r, resp, hook := newTestRouter(t, e)

	r.Handle(context.Background(), callback(3, engine.CallbackGetStep))

	assert.Equal(t, []answer{{id: "cb", text: "retry lesson 2", alert: true}}, resp.answers)
	assert.Empty(t, resp.messages, "failures answer with an alert only")
	assert.Equal(t, "callback_failed", lastEvent(hook)["event"])
}

func TestRouterAdminStepCallback(t *testing.T) {
	e := &fakeEngine{resp: engine.Response{Outcome: engine.OutcomeDelivered}}
	r, resp, _ := newTestRouter(t, e)

	r.Handle(context.Background(), callback(3, "admin_get_step=4"))
	r.Handle(context.Background(), callback(3, "admin_get_step=x"))
	r.Handle(context.Background(), callback(3, engine.CallbackEmpty))

	require.Len(t, e.calls, 1, "only the well-formed index reaches the engine")
	assert.Equal(t, engineCall{op: "admin_step", user: 3, index: 4}, e.calls[0])
	assert.Len(t, resp.answers, 3, "every callback is answered")
	assert.Empty(t, resp.messages)
}

func TestRouterLogsEngineErrors(t *testing.T) {
	e := &fakeEngine{err: errors.New("store unavailable")}
	r, resp, hook := newTestRouter(t, e)

	r.Handle(context.Background(), privateMessage(1, "/start"))

	assert.Empty(t, resp.messages, "no reply without text")
	data := lastEvent(hook)
	assert.Equal(t, "command_failed", data["event"])
	assert.Equal(t, "start", data["trigger"])
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, name, args string
	}{
		{"/start", "start", ""},
		{" /login  pass word ", "login", "pass word"},
		{"/get_step@my_bot", "get_step", ""},
		{"plain", "", ""},
	}
	for _, tt := range tests {
		name, args := parseCommand(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}
