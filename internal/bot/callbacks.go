package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
	"home-tasks/internal/notify"
	"home-tasks/internal/render"
	"home-tasks/internal/service"
)

const (
	actDone          = "done"
	actPostpone      = "postpone"
	actPostponeDo    = "postpone_do"
	actSetDue        = "setdue"
	actSetDueDo      = "setdue_do"
	actRepeat        = "repeat"
	actRepeatSet     = "repeat_set"
	actRepeatRemove  = "repeat_remove"
	actEdit          = "edit"
	actDelete        = "delete"
	actConfirmDelete = "confirm_delete"
	actBack          = "back"
	actOpen          = "open"
	actPage          = "page"
	actNoop          = "noop"
)

// callback is parsed inline button data: "action:taskID[:arg]",
// "<list>:page:N" or "noop".
type callback struct {
	action string
	taskID uint
	arg    string
	list   service.ListKind
	page   int
}

func parseCallback(data string) (callback, error) {
	if data == actNoop {
		return callback{action: actNoop}, nil
	}
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return callback{}, fmt.Errorf("malformed callback %q", data)
	}
	if parts[1] == actPage {
		if len(parts) != 3 {
			return callback{}, fmt.Errorf("malformed page callback %q", data)
		}
		page, err := strconv.Atoi(parts[2])
		if err != nil {
			return callback{}, fmt.Errorf("page in %q: %w", data, err)
		}
		return callback{action: actPage, list: service.ListKind(parts[0]), page: page}, nil
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return callback{}, fmt.Errorf("task id in %q", data)
	}
	cb := callback{action: parts[0], taskID: uint(id)}
	if len(parts) == 3 {
		cb.arg = parts[2]
	}
	return cb, nil
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return b.answer(q, "")
	}
	if !b.isAllowed(q.From.ID) {
		return b.answer(q, "⛔")
	}
	cb, err := parseCallback(q.Data)
	if err != nil {
		b.log.Warn().Err(err).Msg("ignore callback")
		return b.answer(q, "")
	}
	if cb.action == actNoop {
		return b.answer(q, "")
	}

	user, err := b.ensureUser(ctx, q.From)
	if err != nil {
		return err
	}
	loc, err := datetime.LoadLocation(user.Timezone)
	if err != nil {
		return err
	}

	notice, err := b.applyCallback(ctx, q.Message, user, loc, cb)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.answer(q, "Task not found")
	case errors.Is(err, service.ErrTaskNotActive):
		return b.answer(q, "This task is already closed")
	case err != nil:
		_ = b.answer(q, "Something went wrong")
		return err
	}
	return b.answer(q, notice)
}

// applyCallback performs the action and returns a short notice shown to
// the user.
func (b *Bot) applyCallback(ctx context.Context, m *tgbotapi.Message, user *model.User, loc *time.Location, cb callback) (string, error) {
	chatID, messageID := m.Chat.ID, m.MessageID
	tasks := b.deps.Tasks

	switch cb.action {
	case actPage:
		msg, err := b.listMessage(ctx, user, cb.list, cb.page)
		if err != nil {
			return "", err
		}
		return "", b.deps.Sink.Edit(ctx, chatID, messageID, msg)

	case actOpen:
		task, err := tasks.Get(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		return "", b.sendCard(ctx, chatID, user, task)

	case actBack:
		task, err := tasks.Get(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		return "", b.deps.Sink.Edit(ctx, chatID, messageID, render.CardMessage(*task, loc))

	case actPostpone, actSetDue, actRepeat, actDelete:
		task, err := tasks.Get(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		if !task.IsActive() {
			return "", service.ErrTaskNotActive
		}
		return "", b.deps.Sink.Edit(ctx, chatID, messageID, notify.Message{
			Text:     render.TaskCard(*task, loc),
			Keyboard: submenu(cb.action, task.ID),
		})

	case actDone:
		res, err := tasks.Complete(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		done := notify.Message{Text: "✅ <b>Done</b>\n\n" + render.TaskCard(*res.Task, loc)}
		if err := b.deps.Sink.Edit(ctx, chatID, messageID, done); err != nil {
			return "", err
		}
		if res.Successor != nil {
			if err := b.sendCard(ctx, chatID, user, res.Successor); err != nil {
				return "", err
			}
			return "Done! Next one scheduled", nil
		}
		return "Done!", nil

	case actPostponeDo:
		var (
			task *model.Task
			err  error
		)
		if cb.arg == "tomorrow" {
			task, err = tasks.PostponeToTomorrow(ctx, *user, cb.taskID)
		} else {
			minutes, convErr := strconv.Atoi(cb.arg)
			if convErr != nil || minutes <= 0 {
				return "", fmt.Errorf("postpone minutes %q", cb.arg)
			}
			task, err = tasks.Postpone(ctx, *user, cb.taskID, minutes)
		}
		if err != nil {
			return "", err
		}
		return "Postponed to " + render.FormatDue(task.DueAt, loc), b.deps.Sink.Edit(ctx, chatID, messageID, render.CardMessage(*task, loc))

	case actSetDueDo:
		if cb.arg == "custom" {
			if _, err := tasks.Get(ctx, *user, cb.taskID); err != nil {
				return "", err
			}
			b.setPending(user.TelegramID, pendingInput{kind: pendingDue, taskID: cb.taskID})
			return "", b.sendText(ctx, chatID, "📅 Send the new due date, e.g. <code>2025-06-06 18:00</code> or \"friday 18:00\". /cancel to stop.")
		}
		task, err := tasks.SetDuePreset(ctx, *user, cb.taskID, cb.arg)
		if err != nil {
			return "", err
		}
		return "Due " + render.FormatDue(task.DueAt, loc), b.deps.Sink.Edit(ctx, chatID, messageID, render.CardMessage(*task, loc))

	case actRepeatSet:
		everyN, unit, err := parseRepeatArg(cb.arg)
		if err != nil {
			return "", err
		}
		task, err := tasks.SetRepeat(ctx, *user, cb.taskID, everyN, unit)
		if err != nil {
			return "", err
		}
		return "Repeats " + render.RepeatLabel(task.RecurrenceRule), b.deps.Sink.Edit(ctx, chatID, messageID, render.CardMessage(*task, loc))

	case actRepeatRemove:
		task, err := tasks.RemoveRepeat(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		return "Repeat removed", b.deps.Sink.Edit(ctx, chatID, messageID, render.CardMessage(*task, loc))

	case actEdit:
		task, err := tasks.Get(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		if !task.IsActive() {
			return "", service.ErrTaskNotActive
		}
		b.setPending(user.TelegramID, pendingInput{kind: pendingTitle, taskID: task.ID})
		return "", b.sendText(ctx, chatID, fmt.Sprintf("✏️ Send the new title for <b>%s</b>. /cancel to stop.", html.EscapeString(task.Title)))

	case actConfirmDelete:
		task, err := tasks.Get(ctx, *user, cb.taskID)
		if err != nil {
			return "", err
		}
		if err := tasks.Delete(ctx, *user, cb.taskID); err != nil {
			return "", err
		}
		return "Deleted", b.deps.Sink.Edit(ctx, chatID, messageID, notify.Message{
			Text: "🗑 <s>" + html.EscapeString(task.Title) + "</s>",
		})
	}
	return "", fmt.Errorf("unknown callback action %q", cb.action)
}

func submenu(action string, taskID uint) [][]notify.Button {
	switch action {
	case actPostpone:
		return render.PostponeKeyboard(taskID)
	case actSetDue:
		return render.SetDueKeyboard(taskID)
	case actRepeat:
		return render.RepeatKeyboard(taskID)
	default:
		return render.DeleteConfirmKeyboard(taskID)
	}
}

// parseRepeatArg reads "N:UNIT", e.g. "1:WEEK".
func parseRepeatArg(arg string) (int, datetime.Unit, error) {
	rawN, rawUnit, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, "", fmt.Errorf("repeat argument %q", arg)
	}
	n, err := strconv.Atoi(rawN)
	if err != nil {
		return 0, "", fmt.Errorf("repeat interval %q: %w", rawN, err)
	}
	unit, err := datetime.ParseUnit(rawUnit)
	if err != nil {
		return 0, "", err
	}
	return n, unit, nil
}

func (b *Bot) answer(q *tgbotapi.CallbackQuery, text string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(q.ID, text))
	return err
}
