package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"stepbystep_bot/internal/domain"
)

// Sender is the delivery adapter. Step content is sent with protected
// content so it cannot be forwarded or saved.
type Sender struct {
	api botAPI
}

// NewSender wraps a bot API.
func NewSender(api botAPI) *Sender {
	return &Sender{api: api}
}

// SendItem delivers one content item to the user's private chat.
func (s *Sender) SendItem(ctx context.Context, userID int64, item domain.ContentItem) error {
	if s == nil || s.api == nil {
		return errors.New("telegram sender is not initialized")
	}

	var err error
	file := &models.InputFileString{Data: item.Reference}

	switch item.Kind {
	case "":
		_, err = s.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:         userID,
			Text:           item.Text,
			ProtectContent: true,
		})
	case domain.MediaPhoto:
		_, err = s.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:         userID,
			Photo:          file,
			Caption:        item.Caption,
			ProtectContent: true,
		})
	case domain.MediaVideo:
		_, err = s.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:         userID,
			Video:          file,
			Caption:        item.Caption,
			ProtectContent: true,
		})
	case domain.MediaAudio:
		_, err = s.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID:         userID,
			Audio:          file,
			Caption:        item.Caption,
			ProtectContent: true,
		})
	case domain.MediaVoice:
		_, err = s.api.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID:         userID,
			Voice:          file,
			Caption:        item.Caption,
			ProtectContent: true,
		})
	case domain.MediaVideoNote:
		_, err = s.api.SendVideoNote(ctx, &bot.SendVideoNoteParams{
			ChatID:         userID,
			VideoNote:      file,
			ProtectContent: true,
		})
	case domain.MediaDocument:
		_, err = s.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:         userID,
			Document:       file,
			Caption:        item.Caption,
			ProtectContent: true,
		})
	default:
		return fmt.Errorf("unsupported content type %q", item.Kind)
	}

	if err != nil {
		return fmt.Errorf("send %s: %w", item.TypeName(), err)
	}
	return nil
}

// SendMessage sends a chat message with an optional inline keyboard.
func (s *Sender) SendMessage(ctx context.Context, msg domain.Message) error {
	if s == nil || s.api == nil {
		return errors.New("telegram sender is not initialized")
	}

	params := &bot.SendMessageParams{
		ChatID: msg.UserID,
		Text:   msg.Text,
	}
	if markup := inlineKeyboard(msg.Keyboard); markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := s.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally with an alert.
func (s *Sender) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if s == nil || s.api == nil {
		return errors.New("telegram sender is not initialized")
	}

	_, err := s.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func inlineKeyboard(rows [][]domain.Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         b.Text,
				URL:          b.URL,
				CallbackData: b.Data,
			})
		}
		keyboard = append(keyboard, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}
