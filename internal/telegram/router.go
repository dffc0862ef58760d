package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/engine"
	"stepbystep_bot/internal/logging"
)

// Engine is the set of progression operations reachable from chat.
type Engine interface {
	Register(ctx context.Context, userID int64) (engine.Response, error)
	Pull(ctx context.Context, userID int64) (engine.Response, error)
	Reset(ctx context.Context, userID int64) (engine.Response, error)
	Erase(ctx context.Context, userID int64) (engine.Response, error)
	Login(ctx context.Context, userID int64, password string) (engine.Response, error)
	Logout(ctx context.Context, userID int64) (engine.Response, error)
	ToggleUpload(ctx context.Context, userID int64) (engine.Response, error)
	EchoUploads(ctx context.Context, userID int64, items []domain.ContentItem) (engine.Response, error)
	AdminMenu(ctx context.Context, userID int64) (engine.Response, error)
	AdminStep(ctx context.Context, userID int64, index int) (engine.Response, error)
	Stats(ctx context.Context, userID int64) (engine.Response, error)
	Reply(ctx context.Context, userID int64) (engine.Response, error)
}

type responder interface {
	SendMessage(ctx context.Context, msg domain.Message) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Router maps private chat commands, callbacks and uploads to engine
// operations and sends the responses back.
type Router struct {
	engine    Engine
	responder responder
	logger    *logrus.Entry
}

// NewRouter builds a Router.
func NewRouter(e Engine, r responder, logger *logrus.Entry) (*Router, error) {
	if e == nil || r == nil {
		return nil, errors.New("router dependencies are required")
	}
	if logger == nil {
		logger = logging.Logger()
	}
	return &Router{engine: e, responder: r, logger: logger}, nil
}

// Handle routes one update. Only private chats are served.
func (r *Router) Handle(ctx context.Context, update *models.Update) {
	if r == nil || update == nil {
		return
	}

	switch {
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.Chat.Type != models.ChatTypePrivate {
		return
	}
	uid := msg.From.ID

	var (
		resp    engine.Response
		err     error
		trigger string
	)

	items := uploadedItems(msg)
	command, args := parseCommand(msg.Text)

	switch {
	case len(items) > 0:
		trigger = "upload"
		resp, err = r.engine.EchoUploads(ctx, uid, items)
	case command != "":
		trigger = command
		resp, err = r.runCommand(ctx, uid, command, args)
	default:
		trigger = "text"
		resp, err = r.engine.Reply(ctx, uid)
	}

	if err != nil {
		logging.Scope{UserID: uid, Event: "command_failed", Trigger: trigger}.On(r.logger).
			WithError(err).Warn("chat command failed")
	}

	r.reply(ctx, uid, resp)
}

func (r *Router) runCommand(ctx context.Context, uid int64, command, args string) (engine.Response, error) {
	switch command {
	case "start":
		return r.engine.Register(ctx, uid)
	case "reset":
		return r.engine.Reset(ctx, uid)
	case "delete_me":
		return r.engine.Erase(ctx, uid)
	case "login":
		return r.engine.Login(ctx, uid, args)
	case "logout":
		return r.engine.Logout(ctx, uid)
	case "upload":
		return r.engine.ToggleUpload(ctx, uid)
	case "get_step":
		return r.engine.AdminMenu(ctx, uid)
	case "stats":
		return r.engine.Stats(ctx, uid)
	default:
		return r.engine.Reply(ctx, uid)
	}
}

func (r *Router) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	uid := query.From.ID
	data := strings.TrimSpace(query.Data)

	var (
		resp engine.Response
		err  error
	)

	switch {
	case data == engine.CallbackGetStep:
		resp, err = r.engine.Pull(ctx, uid)
	case strings.HasPrefix(data, engine.CallbackAdminStepPrefix):
		index, convErr := strconv.Atoi(strings.TrimPrefix(data, engine.CallbackAdminStepPrefix))
		if convErr != nil {
			r.answer(ctx, query.ID, "", false)
			return
		}
		resp, err = r.engine.AdminStep(ctx, uid, index)
	default:
		r.answer(ctx, query.ID, "", false)
		return
	}

	if err != nil {
		logging.Scope{UserID: uid, Event: "callback_failed", Trigger: data}.On(r.logger).
			WithError(err).Warn("callback handling failed")
	}

	if resp.Outcome == engine.OutcomeFailed {
		r.answer(ctx, query.ID, resp.Text, true)
		return
	}

	r.answer(ctx, query.ID, "", false)
	r.reply(ctx, uid, resp)
}

func (r *Router) reply(ctx context.Context, uid int64, resp engine.Response) {
	if strings.TrimSpace(resp.Text) == "" {
		return
	}

	err := r.responder.SendMessage(ctx, domain.Message{
		UserID:   uid,
		Text:     resp.Text,
		Keyboard: resp.Keyboard,
	})
	if err != nil {
		logging.Scope{UserID: uid, Event: "reply_failed"}.On(r.logger).
			WithError(err).Warn("failed to send reply")
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := r.responder.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		r.logger.WithField("error", err).Debug("failed to answer callback")
	}
}

// parseCommand splits "/cmd@bot args" into its lowercase name and
// arguments. It returns an empty name for non-command text.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func uploadedItems(msg *models.Message) []domain.ContentItem {
	var items []domain.ContentItem
	if n := len(msg.Photo); n > 0 {
		items = append(items, domain.MediaItem(domain.MediaPhoto, msg.Photo[n-1].FileID, msg.Caption))
	}
	if msg.Video != nil {
		items = append(items, domain.MediaItem(domain.MediaVideo, msg.Video.FileID, msg.Caption))
	}
	if msg.Audio != nil {
		items = append(items, domain.MediaItem(domain.MediaAudio, msg.Audio.FileID, msg.Caption))
	}
	if msg.Voice != nil {
		items = append(items, domain.MediaItem(domain.MediaVoice, msg.Voice.FileID, msg.Caption))
	}
	if msg.VideoNote != nil {
		items = append(items, domain.MediaItem(domain.MediaVideoNote, msg.VideoNote.FileID, ""))
	}
	if msg.Document != nil {
		items = append(items, domain.MediaItem(domain.MediaDocument, msg.Document.FileID, msg.Caption))
	}
	return items
}
