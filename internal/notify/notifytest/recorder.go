// Package notifytest provides an in-memory notify.Sink for tests.
package notifytest

import (
	"context"
	"sync"

	"home-tasks/internal/notify"
)

type Sent struct {
	ChatID    int64
	MessageID int
	Msg       notify.Message
}

// Recorder records messages. Fail, when set, is consulted before every
// send and edit; a non-nil result is returned as the delivery error.
type Recorder struct {
	Fail func(chatID int64, msg notify.Message) error

	mu     sync.Mutex
	nextID int
	sent   []Sent
	edits  []Sent
}

func (r *Recorder) Send(ctx context.Context, chatID int64, msg notify.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.Fail != nil {
		if err := r.Fail(chatID, msg); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.sent = append(r.sent, Sent{ChatID: chatID, MessageID: r.nextID, Msg: msg})
	return r.nextID, nil
}

func (r *Recorder) Edit(ctx context.Context, chatID int64, messageID int, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Fail != nil {
		if err := r.Fail(chatID, msg); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, Sent{ChatID: chatID, MessageID: messageID, Msg: msg})
	return nil
}

// Sent returns a copy of the delivered messages.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Edits() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.edits...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.edits = nil
	r.mu.Unlock()
}

var _ notify.Sink = (*Recorder)(nil)
