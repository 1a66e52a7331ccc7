package render

import (
	"fmt"

	"home-tasks/internal/notify"
)

func btn(text, format string, args ...any) notify.Button {
	return notify.Button{Text: text, Data: fmt.Sprintf(format, args...)}
}

// CardKeyboard holds the actions available on a task card.
func CardKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("✅ Done", "done:%d", taskID), btn("⏰ Postpone", "postpone:%d", taskID)},
		{btn("📅 Set due", "setdue:%d", taskID), btn("🔁 Repeat", "repeat:%d", taskID)},
		{btn("✏️ Edit", "edit:%d", taskID), btn("🗑 Delete", "delete:%d", taskID)},
	}
}

func PostponeKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("15 min", "postpone_do:%d:15", taskID), btn("1 hour", "postpone_do:%d:60", taskID)},
		{btn("Tomorrow", "postpone_do:%d:tomorrow", taskID), btn("← Back", "back:%d", taskID)},
	}
}

func RepeatKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("Every day", "repeat_set:%d:1:DAY", taskID), btn("Every week", "repeat_set:%d:1:WEEK", taskID)},
		{btn("Every month", "repeat_set:%d:1:MONTH", taskID), btn("Remove repeat", "repeat_remove:%d", taskID)},
		{btn("← Back", "back:%d", taskID)},
	}
}

func SetDueKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("Today 09:00", "setdue_do:%d:today_9", taskID), btn("Today 18:00", "setdue_do:%d:today_18", taskID)},
		{btn("Tomorrow 09:00", "setdue_do:%d:tomorrow_9", taskID), btn("Tomorrow 18:00", "setdue_do:%d:tomorrow_18", taskID)},
		{btn("✍️ Custom", "setdue_do:%d:custom", taskID), btn("← Back", "back:%d", taskID)},
	}
}

func DeleteConfirmKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("Yes, delete", "confirm_delete:%d", taskID), btn("← Cancel", "back:%d", taskID)},
	}
}

// ListItemKeyboard is attached to single task messages in lists.
func ListItemKeyboard(taskID uint) [][]notify.Button {
	return [][]notify.Button{
		{btn("Open", "open:%d", taskID), btn("✅ Done", "done:%d", taskID)},
	}
}

// PaginationKeyboard renders prev/next controls; nil when there is one page.
func PaginationKeyboard(prefix string, page, totalPages int) [][]notify.Button {
	var row []notify.Button
	if page > 1 {
		row = append(row, btn("← Back", "%s:page:%d", prefix, page-1))
	}
	if totalPages > 1 {
		row = append(row, btn(fmt.Sprintf("%d/%d", page, totalPages), "noop"))
	}
	if page < totalPages {
		row = append(row, btn("Next →", "%s:page:%d", prefix, page+1))
	}
	if len(row) == 0 {
		return nil
	}
	return [][]notify.Button{row}
}
