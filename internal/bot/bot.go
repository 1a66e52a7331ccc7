package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
	"home-tasks/internal/notify"
	"home-tasks/internal/render"
	"home-tasks/internal/service"
)

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• just send text (or forward a message) to add a task\n" +
	"• /add &lt;text&gt; — add a task\n" +
	"• /today — tasks due today\n" +
	"• /inbox — tasks without a due date\n" +
	"• /overdue — overdue tasks\n" +
	"• /week — the next 7 days\n" +
	"• /all — every active task\n" +
	"• /settings — timezone, quiet hours and digest time\n" +
	"• /tz &lt;Area/City&gt; — set timezone\n" +
	"• /quiet &lt;HH:MM&gt; &lt;HH:MM&gt; — set quiet hours\n" +
	"• /digest &lt;HH:MM&gt; — set daily digest time\n" +
	"• /report — show the daily digest now\n" +
	"• /cancel — cancel the current input"

// Alerter reports unexpected failures. chatID 0 means the admin chats.
type Alerter interface {
	Notify(ctx context.Context, err error, where string, chatID int64)
}

type pendingKind int

const (
	pendingTitle pendingKind = iota + 1
	pendingDue
)

// pendingInput is an action waiting for the user's next text message.
type pendingInput struct {
	kind   pendingKind
	taskID uint
}

type Deps struct {
	Users  *service.UserService
	Tasks  *service.TaskService
	Digest *service.ReminderService
	Sink   notify.Sink
	Alerts Alerter
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api     API
	deps    Deps
	allowed map[int64]bool
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[int64]pendingInput
}

// Connect authorizes token against the Bot API.
func Connect(token string, log zerolog.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return api, nil
}

// New creates the bot. An empty allowedIDs admits every private chat.
func New(api API, deps Deps, allowedIDs []int64, log zerolog.Logger) *Bot {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	if deps.Sink == nil {
		deps.Sink = NewSink(api)
	}
	return &Bot{
		api:     api,
		deps:    deps,
		allowed: allowed,
		log:     log.With().Str("component", "bot").Logger(),
		pending: map[int64]pendingInput{},
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.HandleUpdate(ctx, update)
	}
	return nil
}

// HandleUpdate dispatches one update. Errors are logged and alerted.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.fail(ctx, err, "callback")
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.fail(ctx, err, "message")
		}
	}
}

func (b *Bot) fail(ctx context.Context, err error, where string) {
	b.log.Error().Err(err).Str("where", where).Msg("handle update")
	if b.deps.Alerts != nil {
		b.deps.Alerts.Notify(ctx, err, "bot "+where, 0)
	}
}

func (b *Bot) isAllowed(id int64) bool {
	return len(b.allowed) == 0 || b.allowed[id]
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if !b.isAllowed(msg.From.ID) {
		b.log.Warn().Int64("from", msg.From.ID).Msg("message from unknown user ignored")
		return b.sendText(ctx, msg.Chat.ID, "⛔ Sorry, this bot is private.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	if msg.IsCommand() {
		b.log.Info().Int64("from", msg.From.ID).Str("command", msg.Command()).Msg("command")
		return b.handleCommand(ctx, msg, user)
	}

	if p, ok := b.takePending(msg.From.ID); ok {
		return b.handlePending(ctx, msg, user, p)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return b.sendText(ctx, msg.Chat.ID, "Send me text to turn it into a task. See /help.")
	}
	source := model.SourceText
	if isForwarded(msg) {
		source = model.SourceForward
	}
	return b.createTask(ctx, msg.Chat.ID, user, text, source)
}

func isForwarded(msg *tgbotapi.Message) bool {
	return msg.ForwardDate != 0 || msg.ForwardFrom != nil || msg.ForwardFromChat != nil || msg.ForwardSenderName != ""
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		name := strings.TrimSpace(msg.From.FirstName)
		if name == "" {
			name = "there"
		}
		return b.sendText(ctx, chatID, fmt.Sprintf("👋 Hi, %s!\n<b>I keep your tasks and remind you on time.</b>\n\n%s", html.EscapeString(name), helpText))
	case "help":
		return b.sendText(ctx, chatID, helpText)
	case "add":
		if args == "" {
			return b.sendText(ctx, chatID, "Usage: /add buy milk tomorrow 18:00")
		}
		return b.createTask(ctx, chatID, user, args, model.SourceText)
	case "today":
		return b.sendList(ctx, chatID, user, service.ListToday)
	case "inbox":
		return b.sendList(ctx, chatID, user, service.ListInbox)
	case "overdue":
		return b.sendList(ctx, chatID, user, service.ListOverdue)
	case "week":
		return b.sendList(ctx, chatID, user, service.ListWeek)
	case "all":
		return b.sendList(ctx, chatID, user, service.ListAll)
	case "report":
		return b.sendReport(ctx, chatID, user)
	case "settings":
		return b.sendText(ctx, chatID, render.Settings(*user))
	case "tz":
		if args == "" {
			return b.sendText(ctx, chatID, "Usage: /tz Europe/Moscow")
		}
		return b.updateSettings(ctx, chatID, func() (*model.User, error) {
			return b.deps.Users.SetTimezone(ctx, user.ID, args)
		})
	case "quiet":
		fields := strings.Fields(args)
		if len(fields) != 2 {
			return b.sendText(ctx, chatID, "Usage: /quiet 23:00 08:00")
		}
		return b.updateSettings(ctx, chatID, func() (*model.User, error) {
			return b.deps.Users.SetQuietHours(ctx, user.ID, fields[0], fields[1])
		})
	case "digest":
		if args == "" {
			return b.sendText(ctx, chatID, "Usage: /digest 09:00")
		}
		return b.updateSettings(ctx, chatID, func() (*model.User, error) {
			return b.deps.Users.SetDigestTime(ctx, user.ID, args)
		})
	case "cancel":
		b.clearPending(msg.From.ID)
		return b.sendText(ctx, chatID, "⏪ Input cancelled.")
	default:
		return b.sendText(ctx, chatID, "Unknown command. See /help.")
	}
}

func (b *Bot) sendReport(ctx context.Context, chatID int64, user *model.User) error {
	digest, err := b.deps.Digest.DailyDigest(ctx, *user, time.Now())
	if err != nil {
		return err
	}
	msg, ok := render.DigestMessage(digest)
	if !ok {
		return b.sendText(ctx, chatID, "Nothing planned 🎉")
	}
	_, err = b.deps.Sink.Send(ctx, chatID, msg)
	return err
}

func (b *Bot) updateSettings(ctx context.Context, chatID int64, apply func() (*model.User, error)) error {
	user, err := apply()
	if err != nil {
		return b.sendText(ctx, chatID, "❌ "+html.EscapeString(err.Error()))
	}
	return b.sendText(ctx, chatID, "✅ Saved.\n\n"+render.Settings(*user))
}

func (b *Bot) createTask(ctx context.Context, chatID int64, user *model.User, text string, source model.SourceType) error {
	task, err := b.deps.Tasks.CreateFromText(ctx, *user, text, source)
	if err != nil {
		if errors.Is(err, service.ErrEmptyTitle) {
			return b.sendText(ctx, chatID, "The task needs a title.")
		}
		return err
	}
	b.log.Info().Uint("task_id", task.ID).Uint("user_id", user.ID).Str("source", string(source)).Msg("task created")
	return b.sendCard(ctx, chatID, user, task)
}

func (b *Bot) sendCard(ctx context.Context, chatID int64, user *model.User, task *model.Task) error {
	loc, err := datetime.LoadLocation(user.Timezone)
	if err != nil {
		return err
	}
	messageID, err := b.deps.Sink.Send(ctx, chatID, render.CardMessage(*task, loc))
	if err != nil {
		return err
	}
	if err := b.deps.Tasks.SetCardMessage(ctx, task.ID, messageID); err != nil {
		b.log.Warn().Err(err).Uint("task_id", task.ID).Msg("store card message id")
	}
	return nil
}

func (b *Bot) sendList(ctx context.Context, chatID int64, user *model.User, kind service.ListKind) error {
	msg, err := b.listMessage(ctx, user, kind, 1)
	if err != nil {
		return err
	}
	_, err = b.deps.Sink.Send(ctx, chatID, msg)
	return err
}

func (b *Bot) listMessage(ctx context.Context, user *model.User, kind service.ListKind, page int) (notify.Message, error) {
	loc, err := datetime.LoadLocation(user.Timezone)
	if err != nil {
		return notify.Message{}, err
	}
	tasks, err := b.deps.Tasks.List(ctx, *user, kind)
	if err != nil {
		return notify.Message{}, err
	}
	return render.TaskList(kind.Title(), string(kind), tasks, page, loc), nil
}

func (b *Bot) handlePending(ctx context.Context, msg *tgbotapi.Message, user *model.User, p pendingInput) error {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	var (
		task *model.Task
		err  error
	)
	switch p.kind {
	case pendingTitle:
		task, err = b.deps.Tasks.UpdateTitle(ctx, *user, p.taskID, text)
	case pendingDue:
		var due time.Time
		due, err = b.deps.Tasks.ParseDueDate(ctx, *user, text)
		if err == nil {
			task, err = b.deps.Tasks.SetDueDate(ctx, *user, p.taskID, due)
		}
	}
	switch {
	case errors.Is(err, service.ErrEmptyTitle), errors.Is(err, service.ErrNoDueDate):
		b.setPending(msg.From.ID, p)
		return b.sendText(ctx, chatID, "🤔 I could not use that. Try again or /cancel.")
	case err != nil:
		return b.replyTaskError(ctx, chatID, err)
	}
	return b.sendCard(ctx, chatID, user, task)
}

func (b *Bot) replyTaskError(ctx context.Context, chatID int64, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.sendText(ctx, chatID, "Task not found.")
	case errors.Is(err, service.ErrTaskNotActive):
		return b.sendText(ctx, chatID, "This task is already closed.")
	}
	return err
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.deps.Users.Ensure(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string) error {
	_, err := b.deps.Sink.Send(ctx, chatID, notify.Message{Text: text})
	return err
}

func (b *Bot) setPending(userID int64, p pendingInput) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[userID] = p
}

func (b *Bot) takePending(userID int64) (pendingInput, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[userID]
	delete(b.pending, userID)
	return p, ok
}

func (b *Bot) clearPending(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, userID)
}
