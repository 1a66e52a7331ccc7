package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"home-tasks/internal/model"
	"home-tasks/internal/notify"
)

// PageSize is the number of tasks per list page.
const PageSize = 5

// Page is one slice of a paginated list. Page numbers start at 1.
type Page[T any] struct {
	Items      []T
	Page       int
	TotalPages int
	Total      int
}

// Paginate clamps page into range and returns that page of items.
func Paginate[T any](items []T, page int) Page[T] {
	total := len(items)
	totalPages := (total + PageSize - 1) / PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * PageSize
	end := start + PageSize
	if end > total {
		end = total
	}
	return Page[T]{Items: items[start:end], Page: page, TotalPages: totalPages, Total: total}
}

// TaskList renders a titled, paginated task list. prefix is the callback
// prefix of the list for pagination buttons.
func TaskList(title, prefix string, tasks []model.Task, page int, loc *time.Location) notify.Message {
	p := Paginate(tasks, page)
	if p.Total == 0 {
		return notify.Message{Text: fmt.Sprintf("%s\n\nNothing here 🎉", title)}
	}

	lines := make([]string, 0, len(p.Items))
	for i, t := range p.Items {
		lines = append(lines, TaskListItem(t, loc, (p.Page-1)*PageSize+i))
	}

	kb := PaginationKeyboard(prefix, p.Page, p.TotalPages)
	for _, t := range p.Items {
		kb = append(kb, []notify.Button{btn(Truncate(t.Title, 30), "open:%d", t.ID)})
	}
	return notify.Message{
		Text:     fmt.Sprintf("%s (%d tasks):\n\n%s", title, p.Total, strings.Join(lines, "\n")),
		Keyboard: kb,
	}
}

// Settings renders the user's notification settings.
func Settings(user model.User) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Settings</b>\n\n")
	fmt.Fprintf(&b, "🌍 Timezone: <code>%s</code>\n", html.EscapeString(user.Timezone))
	fmt.Fprintf(&b, "🌙 Quiet hours: %s–%s\n", user.QuietFrom, user.QuietTo)
	fmt.Fprintf(&b, "📬 Digest: %s\n\n", user.DigestTime)
	b.WriteString("Change with /tz &lt;Area/City&gt;, /quiet &lt;HH:MM&gt; &lt;HH:MM&gt;, /digest &lt;HH:MM&gt;")
	return b.String()
}
