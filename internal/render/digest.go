package render

import (
	"fmt"
	"html"
	"strings"

	"home-tasks/internal/model"
	"home-tasks/internal/notify"
)

const digestPreview = 5

// Digest is the content of a daily digest.
type Digest struct {
	Overdue []model.Task
	Today   []model.Task
	Inbox   []model.Task
}

func (d Digest) Empty() bool {
	return len(d.Overdue) == 0 && len(d.Today) == 0 && len(d.Inbox) == 0
}

// DigestMessage renders the digest. ok is false for an empty digest,
// which is never sent.
func DigestMessage(d Digest) (msg notify.Message, ok bool) {
	if d.Empty() {
		return notify.Message{}, false
	}

	var b strings.Builder
	b.WriteString("📬 <b>Daily Digest</b>\n\n")
	writeSection(&b, "⚠️ Overdue", d.Overdue)
	writeSection(&b, "📋 Today", d.Today)
	if len(d.Inbox) > 0 {
		fmt.Fprintf(&b, "📥 Inbox: %d task(s)\n", len(d.Inbox))
	}
	return notify.Message{Text: strings.TrimRight(b.String(), "\n")}, true
}

func writeSection(b *strings.Builder, title string, tasks []model.Task) {
	if len(tasks) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %d task(s)\n", title, len(tasks))
	for i, t := range tasks {
		if i == digestPreview {
			fmt.Fprintf(b, "  ... and %d more\n", len(tasks)-digestPreview)
			break
		}
		fmt.Fprintf(b, "  • %s\n", html.EscapeString(t.Title))
	}
	b.WriteString("\n")
}
