package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"home-tasks/internal/datetime"
	"home-tasks/internal/gate"
	"home-tasks/internal/model"
	"home-tasks/internal/recurrence"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	user, err := NewUserRepository(db).UpsertFromTelegram(context.Background(), model.User{
		TelegramID: 1001,
		FirstName:  "Ann",
		Timezone:   "Europe/Moscow",
		QuietFrom:  "23:00",
		QuietTo:    "08:00",
		DigestTime: "09:00",
	})
	require.NoError(t, err)
	return user
}

func scheduled(t *testing.T, reminders *ReminderRepository, taskID uint) []model.Reminder {
	t.Helper()
	all, err := reminders.ListForTask(context.Background(), taskID)
	require.NoError(t, err)
	var out []model.Reminder
	for _, r := range all {
		if r.State == model.ReminderScheduled {
			out = append(out, r)
		}
	}
	return out
}

func TestCreateTaskSchedulesReminder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	reminders := NewReminderRepository(db)

	due := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	task := &model.Task{UserID: user.ID, Title: "Call mom", DueAt: &due}
	require.NoError(t, tasks.Create(ctx, task))
	assert.Equal(t, model.TaskActive, task.Status)
	assert.Equal(t, model.SourceText, task.SourceType)

	pending := scheduled(t, reminders, task.ID)
	require.Len(t, pending, 1)
	assert.True(t, due.Equal(pending[0].FireAt))

	inbox := &model.Task{UserID: user.ID, Title: "Someday"}
	require.NoError(t, tasks.Create(ctx, inbox))
	assert.Empty(t, scheduled(t, reminders, inbox.ID))
}

func TestSetDueAtReplacesReminder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	reminders := NewReminderRepository(db)

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	task := &model.Task{UserID: user.ID, Title: "Dentist", DueAt: &t1}
	require.NoError(t, tasks.Create(ctx, task))

	updated, err := tasks.SetDueAt(ctx, user.ID, task.ID, t2)
	require.NoError(t, err)
	assert.True(t, t2.Equal(*updated.DueAt))

	pending := scheduled(t, reminders, task.ID)
	require.Len(t, pending, 1)
	assert.True(t, t2.Equal(pending[0].FireAt))

	all, err := reminders.ListForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.ReminderCancelled, all[1].State)

	// Between t1 and t2 nothing is due.
	due, err := reminders.ListDue(ctx, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = reminders.ListDue(ctx, t2)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, task.ID, due[0].Task.ID)
	assert.Equal(t, user.ID, due[0].User.ID)
}

func TestListDueAndMarkSent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	reminders := NewReminderRepository(db)

	early := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &model.Task{UserID: user.ID, Title: "A", DueAt: &late}
	b := &model.Task{UserID: user.ID, Title: "B", DueAt: &early}
	require.NoError(t, tasks.Create(ctx, a))
	require.NoError(t, tasks.Create(ctx, b))

	// Reminder pointing to a task that does not exist.
	orphan, err := reminders.Create(ctx, 9999, early)
	require.NoError(t, err)

	due, err := reminders.ListDue(ctx, late)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "B", due[0].Task.Title)
	assert.Nil(t, due[1].Task, "orphan reminder has no task")
	assert.Equal(t, orphan.ID, due[1].Reminder.ID)
	assert.Equal(t, "A", due[2].Task.Title)

	require.NoError(t, reminders.MarkSent(ctx, due[0].Reminder.ID))
	require.NoError(t, reminders.MarkSent(ctx, due[0].Reminder.ID))

	due, err = reminders.ListDue(ctx, late)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMarkSentKeepsCancelled(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reminders := NewReminderRepository(db)

	rem, err := reminders.Create(ctx, 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, reminders.CancelForTask(ctx, 1))
	require.NoError(t, reminders.MarkSent(ctx, rem.ID))

	all, err := reminders.ListForTask(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.ReminderCancelled, all[0].State)
}

func TestCompleteSpawnsSuccessorOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	rules := NewRecurrenceRuleRepository(db)
	reminders := NewReminderRepository(db)

	due := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	task := &model.Task{UserID: user.ID, Title: "Pay rent", Notes: "landlord", DueAt: &due}
	require.NoError(t, tasks.Create(ctx, task))
	_, err := rules.Set(ctx, task.ID, 1, datetime.Month)
	require.NoError(t, err)

	doneAt := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)
	spawn := func(task model.Task, rule model.RecurrenceRule) (recurrence.Successor, error) {
		return recurrence.Expand(task, rule, doneAt, time.UTC)
	}

	res, err := tasks.Complete(ctx, user.ID, task.ID, doneAt, spawn)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, res.Task.Status)
	require.NotNil(t, res.Successor)
	assert.Equal(t, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), res.Successor.DueAt.UTC())
	assert.Equal(t, "landlord", res.Successor.Notes)
	assert.Empty(t, scheduled(t, reminders, task.ID))
	require.Len(t, scheduled(t, reminders, res.Successor.ID), 1)

	succRule, err := rules.Get(ctx, res.Successor.ID)
	require.NoError(t, err)
	assert.True(t, succRule.Active)
	parentRule, err := rules.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, parentRule.ID, succRule.ID)

	_, err = tasks.Complete(ctx, user.ID, task.ID, doneAt, spawn)
	assert.ErrorIs(t, err, ErrTaskNotActive)

	active, err := tasks.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, res.Successor.ID, active[0].ID)

	stored, err := tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, stored.Status)
	require.NotNil(t, stored.DoneAt)
}

func TestCompleteRollsBackWhenSpawnFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	rules := NewRecurrenceRuleRepository(db)
	reminders := NewReminderRepository(db)

	due := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	task := &model.Task{UserID: user.ID, Title: "Gym", DueAt: &due}
	require.NoError(t, tasks.Create(ctx, task))
	_, err := rules.Set(ctx, task.ID, 1, datetime.Day)
	require.NoError(t, err)

	_, err = tasks.Complete(ctx, user.ID, task.ID, due, func(model.Task, model.RecurrenceRule) (recurrence.Successor, error) {
		return recurrence.Successor{}, assert.AnError
	})
	require.Error(t, err)

	stored, err := tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskActive, stored.Status)
	assert.Len(t, scheduled(t, reminders, task.ID), 1)
}

func TestCompleteWithInactiveRule(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	rules := NewRecurrenceRuleRepository(db)

	task := &model.Task{UserID: user.ID, Title: "Once"}
	require.NoError(t, tasks.Create(ctx, task))
	_, err := rules.Set(ctx, task.ID, 1, datetime.Week)
	require.NoError(t, err)
	require.NoError(t, rules.Deactivate(ctx, task.ID))

	res, err := tasks.Complete(ctx, user.ID, task.ID, time.Now(), func(task model.Task, rule model.RecurrenceRule) (recurrence.Successor, error) {
		return recurrence.Expand(task, rule, time.Now(), time.UTC)
	})
	require.NoError(t, err)
	assert.Nil(t, res.Successor)

	rule, err := rules.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, rule.Active)
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)
	reminders := NewReminderRepository(db)

	due := time.Now().Add(time.Hour)
	task := &model.Task{UserID: user.ID, Title: "Trash", DueAt: &due}
	require.NoError(t, tasks.Create(ctx, task))

	require.NoError(t, tasks.SoftDelete(ctx, user.ID, task.ID))
	assert.Empty(t, scheduled(t, reminders, task.ID))
	assert.ErrorIs(t, tasks.SoftDelete(ctx, user.ID, task.ID), ErrNotFound)

	stored, err := tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDeleted, stored.Status)

	_, err = tasks.SetDueAt(ctx, user.ID, task.ID, due)
	assert.ErrorIs(t, err, ErrTaskNotActive)
}

func TestFilteredLists(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)
	tasks := NewTaskRepository(db)

	yesterday := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	today := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for _, task := range []*model.Task{
		{UserID: user.ID, Title: "late", DueAt: &yesterday},
		{UserID: user.ID, Title: "now", DueAt: &today},
		{UserID: user.ID, Title: "inbox"},
	} {
		require.NoError(t, tasks.Create(ctx, task))
	}

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)

	overdue, err := tasks.ListActiveDueBefore(ctx, user.ID, start)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "late", overdue[0].Title)

	todays, err := tasks.ListActiveDueBetween(ctx, user.ID, start, end)
	require.NoError(t, err)
	require.Len(t, todays, 1)
	assert.Equal(t, "now", todays[0].Title)

	inbox, err := tasks.ListInbox(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "inbox", inbox[0].Title)

	all, err := tasks.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "late", all[0].Title)
	assert.Equal(t, "inbox", all[2].Title)

	_, err = tasks.FindForUser(ctx, user.ID+1, all[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	user := newTestUser(t, db)

	again, err := users.UpsertFromTelegram(ctx, model.User{TelegramID: 1001, FirstName: "Anna", Timezone: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Europe/Moscow", again.Timezone, "settings survive profile refresh")

	tz := "Asia/Tokyo"
	updated, err := users.UpdateSettings(ctx, user.ID, SettingsUpdate{Timezone: &tz})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", updated.Timezone)
	assert.Equal(t, "23:00", updated.QuietFrom)
	assert.Equal(t, "Anna", updated.FirstName)

	_, err = users.FindByTelegramID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := users.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGateRepositoryStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewGateRepository(db)
	g := gate.New(store)
	key := gate.Key{UserID: 5, Class: gate.ClassOverdue}

	fired, err := g.Fired(ctx, key, "2025-06-01")
	require.NoError(t, err)
	assert.False(t, fired)

	require.NoError(t, g.Mark(ctx, key, "2025-06-01"))
	require.NoError(t, g.Mark(ctx, key, "2025-06-02"))

	v, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-06-02", v)
}

func TestPruneFinished(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reminders := NewReminderRepository(db)

	rem, err := reminders.Create(ctx, 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, reminders.MarkSent(ctx, rem.ID))
	_, err = reminders.Create(ctx, 2, time.Now())
	require.NoError(t, err)

	n, err := reminders.PruneFinished(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
