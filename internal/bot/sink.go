package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"home-tasks/internal/notify"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sink delivers notify messages through the Telegram Bot API.
type Sink struct {
	api API
}

func NewSink(api API) *Sink {
	return &Sink{api: api}
}

func (s *Sink) Send(ctx context.Context, chatID int64, msg notify.Message) (int, error) {
	out := tgbotapi.NewMessage(chatID, msg.Text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	if kb := inlineKeyboard(msg.Keyboard); kb != nil {
		out.ReplyMarkup = *kb
	}
	sent, err := call(ctx, func() (tgbotapi.Message, error) { return s.api.Send(out) })
	if err != nil {
		return 0, mapSendError(err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text and keyboard of a sent message. Editing to
// identical content is not an error.
func (s *Sink) Edit(ctx context.Context, chatID int64, messageID int, msg notify.Message) error {
	out := tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	if kb := inlineKeyboard(msg.Keyboard); kb != nil {
		out.ReplyMarkup = kb
	}
	_, err := call(ctx, func() (tgbotapi.Message, error) { return s.api.Send(out) })
	if err != nil && !isNotModified(err) {
		return mapSendError(err)
	}
	return nil
}

// call runs fn and gives up when ctx ends first. The request itself cannot
// be cancelled: it may still be delivered, and its result is dropped.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func inlineKeyboard(rows [][]notify.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, buttons)
	}
	if len(out) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(out...)
	return &kb
}

// mapSendError marks errors after which retrying the same chat is
// pointless: the user blocked the bot or the chat is gone.
func mapSendError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403,
		strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "bot was blocked"),
		strings.Contains(desc, "user is deactivated"):
		return fmt.Errorf("%w: %s", notify.ErrRecipientUnavailable, apiErr.Message)
	}
	return err
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

var _ notify.Sink = (*Sink)(nil)
