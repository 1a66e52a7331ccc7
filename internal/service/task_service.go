package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"home-tasks/internal/datetime"
	"home-tasks/internal/model"
	"home-tasks/internal/recurrence"
	"home-tasks/internal/repository"
)

var (
	ErrTaskNotActive   = repository.ErrTaskNotActive
	ErrNotFound        = repository.ErrNotFound
	ErrEmptyTitle      = errors.New("title is required")
	ErrNoDueDate       = errors.New("no date found in text")
	ErrUnknownPreset   = errors.New("unknown due date preset")
	ErrInvalidTimezone = errors.New("unknown timezone")
)

// Morning is the default local time for dates given without a time.
var Morning = datetime.Clock{Hour: 9}

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title  string
	Notes  string
	DueAt  *time.Time
	Source model.SourceType
}

// ListKind names a task list shown to users.
type ListKind string

const (
	ListToday   ListKind = "today"
	ListInbox   ListKind = "inbox"
	ListOverdue ListKind = "overdue"
	ListWeek    ListKind = "week"
	ListAll     ListKind = "all"
)

// Title is the heading of the list.
func (k ListKind) Title() string {
	switch k {
	case ListToday:
		return "📋 <b>Today</b>"
	case ListInbox:
		return "📥 <b>Inbox</b>"
	case ListOverdue:
		return "⚠️ <b>Overdue</b>"
	case ListWeek:
		return "📅 <b>This week</b>"
	default:
		return "📋 <b>All tasks</b>"
	}
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo *repository.TaskRepository
	ruleRepo *repository.RecurrenceRuleRepository
	parser   TextParser
	log      zerolog.Logger
	now      func() time.Time
}

type TaskOption func(*TaskService)

// WithTaskClock overrides the time source.
func WithTaskClock(now func() time.Time) TaskOption {
	return func(s *TaskService) { s.now = now }
}

func NewTaskService(taskRepo *repository.TaskRepository, ruleRepo *repository.RecurrenceRuleRepository, parser TextParser, log zerolog.Logger, opts ...TaskOption) *TaskService {
	if parser == nil {
		parser = PlainParser{}
	}
	s := &TaskService{
		taskRepo: taskRepo,
		ruleRepo: ruleRepo,
		parser:   parser,
		log:      log.With().Str("component", "tasks").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func location(user model.User) (*time.Location, error) {
	loc, err := datetime.LoadLocation(user.Timezone)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", user.ID, err)
	}
	return loc, nil
}

// CreateFromText parses text into a task and stores it. Parser failures
// fall back to the raw text as title without a due date. Forwarded text
// is kept in full as notes.
func (s *TaskService) CreateFromText(ctx context.Context, user model.User, text string, source model.SourceType) (*model.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTitle
	}
	loc, err := location(user)
	if err != nil {
		return nil, err
	}

	parsed, err := s.parser.Parse(ctx, ParseRequest{
		Text:      text,
		Location:  loc,
		Now:       s.now(),
		Forwarded: source == model.SourceForward,
	})
	if err != nil || strings.TrimSpace(parsed.Title) == "" {
		if err != nil {
			s.log.Warn().Err(err).Uint("user_id", user.ID).Msg("parse task text, using fallback")
		}
		parsed = FallbackTask(text)
	}

	input := TaskInput{Title: parsed.Title, Notes: parsed.Notes, DueAt: parsed.DueAt, Source: source}
	if source == model.SourceForward {
		input.Notes = text
	}
	return s.Create(ctx, user, input)
}

func (s *TaskService) Create(ctx context.Context, user model.User, input TaskInput) (*model.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	source := input.Source
	if source == "" {
		source = model.SourceText
	}

	task := model.Task{
		UserID:     user.ID,
		Title:      truncateRunes(title, titleLimit),
		Notes:      input.Notes,
		DueAt:      input.DueAt,
		Status:     model.TaskActive,
		SourceType: source,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) Get(ctx context.Context, user model.User, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindForUser(ctx, user.ID, taskID)
}

// Complete marks the task done and, for recurring tasks, creates the next
// occurrence in the same transaction.
func (s *TaskService) Complete(ctx context.Context, user model.User, taskID uint) (*repository.CompleteResult, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	doneAt := s.now().UTC()
	return s.taskRepo.Complete(ctx, user.ID, taskID, doneAt, func(task model.Task, rule model.RecurrenceRule) (recurrence.Successor, error) {
		return recurrence.Expand(task, rule, doneAt, loc)
	})
}

func (s *TaskService) Delete(ctx context.Context, user model.User, taskID uint) error {
	return s.taskRepo.SoftDelete(ctx, user.ID, taskID)
}

// Postpone moves the due date by minutes, counted from the current due
// date when it is still ahead, otherwise from now.
func (s *TaskService) Postpone(ctx context.Context, user model.User, taskID uint, minutes int) (*model.Task, error) {
	task, err := s.activeTask(ctx, user, taskID)
	if err != nil {
		return nil, err
	}
	base := s.now().UTC()
	if task.DueAt != nil && task.DueAt.After(base) {
		base = *task.DueAt
	}
	return s.taskRepo.SetDueAt(ctx, user.ID, taskID, base.Add(time.Duration(minutes)*time.Minute))
}

// PostponeToTomorrow moves the due date to 09:00 tomorrow, user local time.
func (s *TaskService) PostponeToTomorrow(ctx context.Context, user model.User, taskID uint) (*model.Task, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	return s.taskRepo.SetDueAt(ctx, user.ID, taskID, datetime.LocalTimeToday(loc, s.now(), Morning, 1))
}

// SetDueDate replaces the due date and its pending reminder atomically.
func (s *TaskService) SetDueDate(ctx context.Context, user model.User, taskID uint, dueAt time.Time) (*model.Task, error) {
	return s.taskRepo.SetDueAt(ctx, user.ID, taskID, dueAt)
}

// SetDuePreset handles the quick choices today_9, today_18, tomorrow_9 and tomorrow_18.
func (s *TaskService) SetDuePreset(ctx context.Context, user model.User, taskID uint, preset string) (*model.Task, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	day, hour, ok := strings.Cut(preset, "_")
	if !ok {
		return nil, ErrUnknownPreset
	}
	var offset int
	switch day {
	case "today":
	case "tomorrow":
		offset = 1
	default:
		return nil, ErrUnknownPreset
	}
	var clock datetime.Clock
	switch hour {
	case "9":
		clock = Morning
	case "18":
		clock = datetime.Clock{Hour: 18}
	default:
		return nil, ErrUnknownPreset
	}
	return s.taskRepo.SetDueAt(ctx, user.ID, taskID, datetime.LocalTimeToday(loc, s.now(), clock, offset))
}

// ParseDueDate reads an explicit date ("2025-06-06 18:00", "06.06.2025 18:00")
// or asks the parser for free text such as "friday 18:00".
func (s *TaskService) ParseDueDate(ctx context.Context, user model.User, text string) (time.Time, error) {
	loc, err := location(user)
	if err != nil {
		return time.Time{}, err
	}
	if due, err := parseDue(strings.TrimSpace(text), loc); err == nil {
		return due, nil
	}
	parsed, err := s.parser.Parse(ctx, ParseRequest{Text: text, Location: loc, Now: s.now()})
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due date: %w", err)
	}
	if parsed.DueAt == nil {
		return time.Time{}, ErrNoDueDate
	}
	return *parsed.DueAt, nil
}

func (s *TaskService) UpdateTitle(ctx context.Context, user model.User, taskID uint, title string) (*model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if err := s.taskRepo.UpdateTitle(ctx, user.ID, taskID, truncateRunes(title, titleLimit)); err != nil {
		return nil, err
	}
	return s.taskRepo.FindForUser(ctx, user.ID, taskID)
}

// SetCardMessage stores the chat message currently showing the task.
func (s *TaskService) SetCardMessage(ctx context.Context, taskID uint, messageID int) error {
	return s.taskRepo.SetCardMessageID(ctx, taskID, messageID)
}

func (s *TaskService) SetRepeat(ctx context.Context, user model.User, taskID uint, everyN int, unit datetime.Unit) (*model.Task, error) {
	if err := recurrence.Validate(everyN, unit); err != nil {
		return nil, err
	}
	if _, err := s.activeTask(ctx, user, taskID); err != nil {
		return nil, err
	}
	if _, err := s.ruleRepo.Set(ctx, taskID, everyN, unit); err != nil {
		return nil, err
	}
	return s.taskRepo.FindForUser(ctx, user.ID, taskID)
}

func (s *TaskService) RemoveRepeat(ctx context.Context, user model.User, taskID uint) (*model.Task, error) {
	if _, err := s.activeTask(ctx, user, taskID); err != nil {
		return nil, err
	}
	if err := s.ruleRepo.Deactivate(ctx, taskID); err != nil {
		return nil, err
	}
	return s.taskRepo.FindForUser(ctx, user.ID, taskID)
}

// Today lists active tasks due within the user's current local day.
func (s *TaskService) Today(ctx context.Context, user model.User, now time.Time) ([]model.Task, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	return s.taskRepo.ListActiveDueBetween(ctx, user.ID, datetime.StartOfLocalDay(loc, now), datetime.EndOfLocalDay(loc, now))
}

// Overdue lists active tasks due before the start of the user's local day.
func (s *TaskService) Overdue(ctx context.Context, user model.User, now time.Time) ([]model.Task, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	return s.taskRepo.ListActiveDueBefore(ctx, user.ID, datetime.StartOfLocalDay(loc, now))
}

// Week lists active tasks due from today through the sixth day after.
func (s *TaskService) Week(ctx context.Context, user model.User, now time.Time) ([]model.Task, error) {
	loc, err := location(user)
	if err != nil {
		return nil, err
	}
	end := datetime.EndOfLocalDay(loc, datetime.AddCalendarInterval(now, 6, datetime.Day, loc))
	return s.taskRepo.ListActiveDueBetween(ctx, user.ID, datetime.StartOfLocalDay(loc, now), end)
}

func (s *TaskService) Inbox(ctx context.Context, user model.User) ([]model.Task, error) {
	return s.taskRepo.ListInbox(ctx, user.ID)
}

func (s *TaskService) All(ctx context.Context, user model.User) ([]model.Task, error) {
	return s.taskRepo.ListActive(ctx, user.ID)
}

// List dispatches on kind using the service clock.
func (s *TaskService) List(ctx context.Context, user model.User, kind ListKind) ([]model.Task, error) {
	now := s.now()
	switch kind {
	case ListToday:
		return s.Today(ctx, user, now)
	case ListInbox:
		return s.Inbox(ctx, user)
	case ListOverdue:
		return s.Overdue(ctx, user, now)
	case ListWeek:
		return s.Week(ctx, user, now)
	case ListAll:
		return s.All(ctx, user)
	default:
		return nil, fmt.Errorf("unknown list %q", kind)
	}
}

func (s *TaskService) activeTask(ctx context.Context, user model.User, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindForUser(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsActive() {
		return nil, ErrTaskNotActive
	}
	return task, nil
}
