package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-tasks/internal/gate"
	"home-tasks/internal/model"
	"home-tasks/internal/notify"
	"home-tasks/internal/notify/notifytest"
	"home-tasks/internal/repository"
	"home-tasks/internal/service"
)

const (
	prefixReminder = "⏰ <b>Reminder!</b>"
	prefixDigest   = "📬 <b>Daily Digest</b>"
	prefixOverdue  = "⚠️ <b>Overdue!</b>"
)

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerts) Notify(_ context.Context, err error, where string, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, where+": "+err.Error())
}

func (f *fakeAlerts) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.alerts...)
}

type blockingSink struct{}

func (blockingSink) Send(ctx context.Context, _ int64, _ notify.Message) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingSink) Edit(ctx context.Context, _ int64, _ int, _ notify.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	tasks     *service.TaskService
	users     *service.UserService
	reminders *repository.ReminderRepository
	taskRepo  *repository.TaskRepository
	gate      *gate.Gate
	sink      *notifytest.Recorder
	alerts    *fakeAlerts
	metrics   *Metrics
	sched     *Scheduler
	user      model.User
	now       time.Time
}

// msk builds a UTC instant from a Europe/Moscow (UTC+3) wall clock.
func msk(y, m, d, hh, mm int) time.Time {
	return time.Date(y, time.Month(m), d, hh-3, mm, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T, quietFrom, quietTo, digest string, opts ...func(*Deps, *Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := repository.NewDB(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	e := &testEnv{t: t, ctx: ctx, sink: &notifytest.Recorder{}, alerts: &fakeAlerts{}, now: msk(2025, 6, 2, 12, 0)}
	clock := func() time.Time { return e.now }

	userRepo := repository.NewUserRepository(db)
	e.taskRepo = repository.NewTaskRepository(db)
	e.reminders = repository.NewReminderRepository(db)
	e.users = service.NewUserService(userRepo, service.UserDefaults{
		Timezone: "Europe/Moscow", QuietFrom: quietFrom, QuietTo: quietTo, DigestTime: digest,
	})
	e.tasks = service.NewTaskService(e.taskRepo, repository.NewRecurrenceRuleRepository(db), nil, zerolog.Nop(), service.WithTaskClock(clock))
	e.gate = gate.New(gate.NewMemory())
	e.metrics = NewMetrics(nil)

	user, err := e.users.Ensure(ctx, 4242, "Ann", "", "")
	require.NoError(t, err)
	e.user = *user

	deps := Deps{
		Reminders: e.reminders,
		Tasks:     e.taskRepo,
		Users:     userRepo,
		Digests:   service.NewReminderService(e.tasks),
		Gate:      e.gate,
		Sink:      e.sink,
		Alerts:    e.alerts,
	}
	cfg := Config{DeliveryTimeout: time.Second, DigestWindow: 2 * time.Minute, OverdueOffset: time.Minute, Workers: 2}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	e.sched = New(deps, cfg, zerolog.Nop(), WithClock(clock), WithMetrics(e.metrics))
	return e
}

func (e *testEnv) tickAt(at time.Time) {
	e.now = at
	e.sched.Tick(e.ctx)
}

func (e *testEnv) createTask(title string, due *time.Time) *model.Task {
	e.t.Helper()
	task, err := e.tasks.Create(e.ctx, e.user, service.TaskInput{Title: title, DueAt: due})
	require.NoError(e.t, err)
	return task
}

func (e *testEnv) sent(prefix string) []notifytest.Sent {
	var out []notifytest.Sent
	for _, s := range e.sink.Sent() {
		if strings.HasPrefix(s.Msg.Text, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func (e *testEnv) reminderStates(taskID uint) []model.ReminderState {
	e.t.Helper()
	all, err := e.reminders.ListForTask(e.ctx, taskID)
	require.NoError(e.t, err)
	var out []model.ReminderState
	for _, r := range all {
		out = append(out, r.State)
	}
	return out
}

func (e *testEnv) fired(class gate.Class, at time.Time) bool {
	e.t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(e.t, err)
	ok, err := e.gate.Fired(e.ctx, gate.Key{UserID: e.user.ID, Class: class}, at.In(loc).Format("2006-01-02"))
	require.NoError(e.t, err)
	return ok
}

func TestClassOrder(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	var names []string
	for _, c := range e.sched.Classes() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"due", "digest", "overdue"}, names)
}

func TestDueReminderFiresExactlyOnce(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	due := msk(2025, 6, 2, 12, 0)
	task := e.createTask("Call mom", &due)

	e.tickAt(due.Add(-time.Minute))
	assert.Empty(t, e.sent(prefixReminder))

	e.tickAt(due)
	got := e.sent(prefixReminder)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4242), got[0].ChatID)
	assert.Contains(t, got[0].Msg.Text, "Call mom")
	assert.Equal(t, []model.ReminderState{model.ReminderSent}, e.reminderStates(task.ID))

	stored, err := e.taskRepo.FindByID(e.ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CardMessageID)
	assert.Equal(t, got[0].MessageID, *stored.CardMessageID)

	e.tickAt(due.Add(time.Minute))
	e.tickAt(due.Add(time.Hour))
	assert.Len(t, e.sent(prefixReminder), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.notifications.WithLabelValues("due", "sent")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.metrics.ticks))
}

func TestQuietHoursWaitOut(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	due := msk(2025, 6, 2, 23, 30)
	task := e.createTask("Night owl", &due)

	e.tickAt(due)
	e.tickAt(msk(2025, 6, 3, 7, 59))
	assert.Empty(t, e.sent(prefixReminder))
	assert.Equal(t, []model.ReminderState{model.ReminderScheduled}, e.reminderStates(task.ID))

	e.tickAt(msk(2025, 6, 3, 8, 0))
	assert.Len(t, e.sent(prefixReminder), 1)
	assert.Equal(t, []model.ReminderState{model.ReminderSent}, e.reminderStates(task.ID))
}

func TestDueDateChangeMovesReminder(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	t1 := msk(2025, 6, 2, 12, 0)
	t2 := msk(2025, 6, 2, 15, 0)
	task := e.createTask("Dentist", &t1)

	_, err := e.tasks.SetDueDate(e.ctx, e.user, task.ID, t2)
	require.NoError(t, err)

	e.tickAt(t1)
	assert.Empty(t, e.sent(prefixReminder))

	e.tickAt(t2)
	assert.Len(t, e.sent(prefixReminder), 1)
}

func TestStaleRemindersRetiredSilently(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	past := msk(2025, 6, 2, 11, 0)

	orphan, err := e.reminders.Create(e.ctx, 9999, past)
	require.NoError(t, err)

	task := e.createTask("Done already", nil)
	_, err = e.tasks.Complete(e.ctx, e.user, task.ID)
	require.NoError(t, err)
	_, err = e.reminders.Create(e.ctx, task.ID, past)
	require.NoError(t, err)

	e.tickAt(msk(2025, 6, 2, 12, 0))
	assert.Empty(t, e.sink.Sent())
	assert.Equal(t, []model.ReminderState{model.ReminderSent}, e.reminderStates(orphan.TaskID))
	assert.Equal(t, []model.ReminderState{model.ReminderSent}, e.reminderStates(task.ID))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.notifications.WithLabelValues("due", "stale")))
	assert.Empty(t, e.alerts.list())
}

func TestTransientFailureRetriedNextTick(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	due := msk(2025, 6, 2, 12, 0)
	task := e.createTask("Flaky", &due)

	e.sink.Fail = func(int64, notify.Message) error { return errors.New("bad gateway") }
	e.tickAt(due)
	assert.Empty(t, e.sink.Sent())
	assert.Equal(t, []model.ReminderState{model.ReminderScheduled}, e.reminderStates(task.ID))
	alerts := e.alerts.list()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], fmt.Sprintf("due user=%d", e.user.ID))

	e.sink.Fail = nil
	e.tickAt(due.Add(time.Minute))
	assert.Len(t, e.sent(prefixReminder), 1)
	assert.Equal(t, []model.ReminderState{model.ReminderSent}, e.reminderStates(task.ID))
}

func TestUnavailableRecipientIsNotAlerted(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	due := msk(2025, 6, 2, 12, 0)
	task := e.createTask("Blocked", &due)

	e.sink.Fail = func(int64, notify.Message) error {
		return fmt.Errorf("forbidden: %w", notify.ErrRecipientUnavailable)
	}
	e.tickAt(due)
	assert.Empty(t, e.alerts.list())
	assert.Equal(t, []model.ReminderState{model.ReminderScheduled}, e.reminderStates(task.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.notifications.WithLabelValues("due", "unavailable")))
}

func TestDeliveryTimeoutCountsAsFailure(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00", func(d *Deps, c *Config) {
		d.Sink = blockingSink{}
		c.DeliveryTimeout = 20 * time.Millisecond
	})
	due := msk(2025, 6, 2, 12, 0)
	task := e.createTask("Slow network", &due)

	e.tickAt(due)
	assert.Equal(t, []model.ReminderState{model.ReminderScheduled}, e.reminderStates(task.ID))
	alerts := e.alerts.list()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], context.DeadlineExceeded.Error())
}

func TestDigestOncePerLocalDay(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	evening := msk(2025, 6, 2, 18, 0)
	e.createTask("Evening run", &evening)
	e.createTask("Someday", nil)

	e.tickAt(msk(2025, 6, 2, 8, 59))
	assert.Empty(t, e.sent(prefixDigest))

	e.tickAt(msk(2025, 6, 2, 9, 0))
	got := e.sent(prefixDigest)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Msg.Text, "📋 Today: 1 task(s)")
	assert.Contains(t, got[0].Msg.Text, "📥 Inbox: 1 task(s)")
	assert.True(t, e.fired(gate.ClassDigest, e.now))

	e.tickAt(msk(2025, 6, 2, 9, 1))
	e.tickAt(msk(2025, 6, 2, 9, 2))
	assert.Len(t, e.sent(prefixDigest), 1)

	e.tickAt(msk(2025, 6, 3, 9, 0))
	got = e.sent(prefixDigest)
	require.Len(t, got, 2)
	assert.Contains(t, got[1].Msg.Text, "⚠️ Overdue: 1 task(s)")
}

func TestDigestWindowIsInclusive(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	e.createTask("Someday", nil)
	e.tickAt(msk(2025, 6, 2, 9, 2))
	assert.Len(t, e.sent(prefixDigest), 1)

	late := newTestEnv(t, "23:00", "08:00", "09:00")
	late.createTask("Someday", nil)
	late.tickAt(msk(2025, 6, 2, 9, 3))
	assert.Empty(t, late.sent(prefixDigest))
	assert.False(t, late.fired(gate.ClassDigest, late.now))
}

func TestEmptyDigestStillMarksGate(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")

	e.tickAt(msk(2025, 6, 2, 9, 0))
	e.tickAt(msk(2025, 6, 2, 9, 1))
	assert.Empty(t, e.sink.Sent())
	assert.True(t, e.fired(gate.ClassDigest, e.now))
	assert.True(t, e.fired(gate.ClassOverdue, e.now))

	// A task added later the same day does not trigger a second digest.
	e.createTask("Late addition", nil)
	e.tickAt(msk(2025, 6, 2, 9, 2))
	assert.Empty(t, e.sent(prefixDigest))
}

func TestDigestSkippedInQuietHours(t *testing.T) {
	e := newTestEnv(t, "08:00", "10:00", "09:00")
	e.createTask("Someday", nil)

	e.tickAt(msk(2025, 6, 2, 9, 0))
	assert.Empty(t, e.sent(prefixDigest))
	assert.False(t, e.fired(gate.ClassDigest, e.now))
}

func TestOverduePartialFailureRetriesBatch(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	yesterday := msk(2025, 6, 1, 10, 0)
	e.createTask("alpha", &yesterday)
	e.createTask("beta", &yesterday)

	failBeta := true
	e.sink.Fail = func(_ int64, msg notify.Message) error {
		if failBeta && strings.HasPrefix(msg.Text, prefixOverdue) && strings.Contains(msg.Text, "beta") {
			return errors.New("flood wait")
		}
		return nil
	}

	e.tickAt(msk(2025, 6, 2, 9, 1))
	assert.Len(t, e.sent(prefixOverdue), 1)
	assert.False(t, e.fired(gate.ClassOverdue, e.now))
	alerts := e.alerts.list()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "overdue user=")

	failBeta = false
	e.tickAt(msk(2025, 6, 2, 9, 2))
	assert.Len(t, e.sent(prefixOverdue), 3)
	assert.True(t, e.fired(gate.ClassOverdue, e.now))

	e.tickAt(msk(2025, 6, 2, 9, 3))
	assert.Len(t, e.sent(prefixOverdue), 3)
}

func TestOverdueAfterMidnightDigest(t *testing.T) {
	e := newTestEnv(t, "03:00", "04:00", "23:59")
	yesterday := msk(2025, 6, 1, 10, 0)
	e.createTask("wrap", &yesterday)

	e.tickAt(msk(2025, 6, 2, 23, 59))
	assert.Len(t, e.sent(prefixDigest), 1)
	assert.Empty(t, e.sent(prefixOverdue))

	e.tickAt(msk(2025, 6, 3, 0, 0))
	assert.Len(t, e.sent(prefixOverdue), 1)
	assert.True(t, e.fired(gate.ClassOverdue, e.now))
	assert.Len(t, e.sent(prefixDigest), 1, "00:00 is still the 23:59 slot of the previous day")
	assert.False(t, e.fired(gate.ClassDigest, e.now))

	e.tickAt(msk(2025, 6, 3, 0, 1))
	assert.Len(t, e.sent(prefixDigest), 1)
	assert.Len(t, e.sent(prefixOverdue), 1)

	e.tickAt(msk(2025, 6, 3, 23, 59))
	assert.Len(t, e.sent(prefixDigest), 2, "next digest fires at the configured time")
	assert.True(t, e.fired(gate.ClassDigest, e.now))
}

func TestLateDigestKeepsItsSlot(t *testing.T) {
	e := newTestEnv(t, "03:00", "04:00", "23:58")
	e.createTask("inbox item", nil)

	e.tickAt(msk(2025, 6, 2, 23, 59))
	require.Len(t, e.sent(prefixDigest), 1)

	e.tickAt(msk(2025, 6, 3, 0, 0))
	assert.Len(t, e.sent(prefixDigest), 1)
	assert.False(t, e.fired(gate.ClassDigest, e.now))

	e.tickAt(msk(2025, 6, 3, 23, 58))
	assert.Len(t, e.sent(prefixDigest), 2)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	e := newTestEnv(t, "23:00", "08:00", "09:00")
	due := msk(2025, 6, 2, 12, 0)
	e.createTask("Busy", &due)

	e.sched.running.Lock()
	e.tickAt(due)
	e.sched.running.Unlock()

	assert.Empty(t, e.sink.Sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.skippedTicks))
}
