// Package render turns tasks into chat messages and inline keyboards.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
	"home-tasks/internal/notify"
)

// DateTimeLayout is how due dates are shown to users.
const DateTimeLayout = "02.01.2006, 15:04"

const notesLimit = 200

// FormatDue renders t in loc, or a dash when nil.
func FormatDue(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "—"
	}
	return t.In(loc).Format(DateTimeLayout)
}

// RepeatLabel describes a recurrence rule, "no" when absent or inactive.
func RepeatLabel(rule *model.RecurrenceRule) string {
	if rule == nil || !rule.Active {
		return "no"
	}
	var noun string
	switch rule.Unit {
	case datetime.Day:
		noun = "day"
	case datetime.Week:
		noun = "week"
	case datetime.Month:
		noun = "month"
	default:
		return "no"
	}
	if rule.EveryN == 1 {
		return "every " + noun
	}
	return fmt.Sprintf("every %d %ss", rule.EveryN, noun)
}

// TaskCard renders the full card of a task.
func TaskCard(task model.Task, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📌 <b>%s</b>\n", html.EscapeString(task.Title))
	fmt.Fprintf(&b, "📅 Due: %s\n", FormatDue(task.DueAt, loc))
	fmt.Fprintf(&b, "🔁 Repeat: %s", RepeatLabel(task.RecurrenceRule))
	if task.Notes != "" {
		fmt.Fprintf(&b, "\n\n📝 %s", html.EscapeString(Truncate(task.Notes, notesLimit)))
	}
	return b.String()
}

// CardMessage is the task card with its action keyboard.
func CardMessage(task model.Task, loc *time.Location) notify.Message {
	return notify.Message{Text: TaskCard(task, loc), Keyboard: CardKeyboard(task.ID)}
}

// ReminderMessage is sent when a task's due date arrives.
func ReminderMessage(task model.Task, loc *time.Location) notify.Message {
	return notify.Message{
		Text:     "⏰ <b>Reminder!</b>\n\n" + TaskCard(task, loc),
		Keyboard: CardKeyboard(task.ID),
	}
}

// OverdueMessage is sent once a day for each overdue task.
func OverdueMessage(task model.Task, loc *time.Location) notify.Message {
	return notify.Message{
		Text:     "⚠️ <b>Overdue!</b>\n\n" + TaskCard(task, loc),
		Keyboard: CardKeyboard(task.ID),
	}
}

// TaskListItem renders one numbered line of a task list. index is zero based.
func TaskListItem(task model.Task, loc *time.Location, index int) string {
	due := "Inbox"
	if task.DueAt != nil {
		due = FormatDue(task.DueAt, loc)
	}
	return fmt.Sprintf("%d. <b>%s</b> — %s", index+1, html.EscapeString(task.Title), due)
}

// Truncate shortens s to limit runes, appending an ellipsis when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
