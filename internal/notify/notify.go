// Package notify defines the outbound message channel used by the scheduler
// and the alert notifier.
package notify

import (
	"context"
	"errors"
)

// ErrRecipientUnavailable means the chat is gone or has blocked the bot.
// Callers log it and move on.
var ErrRecipientUnavailable = errors.New("recipient unavailable")

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Message is an HTML formatted chat message with an optional inline keyboard.
type Message struct {
	Text     string
	Keyboard [][]Button
}

// Sink delivers messages to a chat. Implementations honour ctx deadlines.
type Sink interface {
	Send(ctx context.Context, chatID int64, msg Message) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, msg Message) error
}
