package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"home-tasks/internal/datetime"
	"home-tasks/internal/gate"
	"home-tasks/internal/model"
	"home-tasks/internal/render"
	"home-tasks/internal/repository"
)

const classDue = "due"

// dueReminders delivers reminders whose fire time has passed.
type dueReminders struct {
	s *Scheduler
}

func (c *dueReminders) Name() string { return classDue }

func (c *dueReminders) Evaluate(ctx context.Context, now time.Time) error {
	due, err := c.s.deps.Reminders.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due reminders: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(c.s.cfg.Workers)
	for _, item := range due {
		item := item
		g.Go(func() error {
			c.fire(ctx, item, now)
			return nil
		})
	}
	return g.Wait()
}

func (c *dueReminders) fire(ctx context.Context, item model.DueReminder, now time.Time) {
	s := c.s
	log := zerolog.Ctx(ctx).With().Uint("reminder_id", item.Reminder.ID).Uint("task_id", item.Reminder.TaskID).Logger()

	if item.Task == nil || item.User == nil {
		c.markStale(ctx, item, log)
		return
	}
	user := *item.User

	settings, err := user.Settings()
	if err != nil {
		s.alert(ctx, fmt.Errorf("user settings: %w", err), fmt.Sprintf("%s user=%d", classDue, user.ID))
		return
	}
	if settings.InQuietHours(now) {
		s.metrics.outcome(classDue, outcomeQuiet)
		log.Debug().Msg("quiet hours, reminder postponed")
		return
	}

	task, err := s.deps.Tasks.FindByID(ctx, item.Task.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.markStale(ctx, item, log)
		return
	case err != nil:
		s.alert(ctx, fmt.Errorf("load task: %w", err), fmt.Sprintf("%s user=%d", classDue, user.ID))
		return
	case !task.IsActive():
		c.markStale(ctx, item, log)
		return
	}

	messageID, err := s.deliver(ctx, user.TelegramID, render.ReminderMessage(*task, settings.Location))
	if err != nil {
		s.deliveryFailed(ctx, classDue, user, err)
		return
	}
	if err := s.deps.Tasks.SetCardMessageID(ctx, task.ID, messageID); err != nil {
		log.Warn().Err(err).Msg("store card message id")
	}
	if err := s.deps.Reminders.MarkSent(ctx, item.Reminder.ID); err != nil {
		s.alert(ctx, err, fmt.Sprintf("%s user=%d", classDue, user.ID))
		return
	}
	s.metrics.outcome(classDue, outcomeSent)
	log.Info().Msg("reminder sent")
}

// markStale retires a reminder whose task is gone or no longer active.
func (c *dueReminders) markStale(ctx context.Context, item model.DueReminder, log zerolog.Logger) {
	if err := c.s.deps.Reminders.MarkSent(ctx, item.Reminder.ID); err != nil {
		c.s.alert(ctx, err, classDue)
		return
	}
	c.s.metrics.outcome(classDue, outcomeStale)
	log.Debug().Msg("stale reminder retired")
}

// dailyClass fires once per user and local day, inside a short window
// starting at the user's digest time plus offset.
type dailyClass struct {
	s       *Scheduler
	class   gate.Class
	offset  time.Duration
	deliver func(ctx context.Context, user model.User, settings model.Settings, now time.Time) error
}

func (d *dailyClass) Name() string { return string(d.class) }

func (d *dailyClass) Evaluate(ctx context.Context, now time.Time) error {
	users, err := d.s.deps.Users.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(d.s.cfg.Workers)
	for _, user := range users {
		user := user
		g.Go(func() error {
			d.evaluateUser(ctx, user, now)
			return nil
		})
	}
	return g.Wait()
}

func (d *dailyClass) evaluateUser(ctx context.Context, user model.User, now time.Time) {
	s := d.s
	where := fmt.Sprintf("%s user=%d", d.class, user.ID)

	settings, err := user.Settings()
	if err != nil {
		s.alert(ctx, fmt.Errorf("user settings: %w", err), where)
		return
	}

	target := settings.Digest.Minutes() + int(d.offset/time.Minute)
	late := datetime.MinutesSince(datetime.MinutesOfDay(now, settings.Location), target)
	if late > int(s.cfg.DigestWindow/time.Minute) {
		return
	}

	// The slot belongs to the local day the window opened on, which is the
	// previous day when the window crosses midnight.
	key := gate.Key{UserID: user.ID, Class: d.class}
	dateKey := datetime.DateKey(now.Add(-time.Duration(late)*time.Minute), settings.Location)
	fired, err := s.deps.Gate.Fired(ctx, key, dateKey)
	if err != nil {
		s.alert(ctx, err, where)
		return
	}
	if fired {
		return
	}
	if settings.InQuietHours(now) {
		s.metrics.outcome(d.Name(), outcomeQuiet)
		return
	}

	if err := d.deliver(ctx, user, settings, now); err != nil {
		s.deliveryFailed(ctx, d.Name(), user, err)
		return
	}
	if err := s.deps.Gate.Mark(ctx, key, dateKey); err != nil {
		s.alert(ctx, err, where)
	}
}

func (s *Scheduler) sendDigest(ctx context.Context, user model.User, _ model.Settings, now time.Time) error {
	digest, err := s.deps.Digests.DailyDigest(ctx, user, now)
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}
	msg, ok := render.DigestMessage(digest)
	if !ok {
		s.metrics.outcome(string(gate.ClassDigest), outcomeEmpty)
		return nil
	}
	if _, err := s.deliver(ctx, user.TelegramID, msg); err != nil {
		return err
	}
	s.metrics.outcome(string(gate.ClassDigest), outcomeSent)
	return nil
}

// sendOverdue sends one notice per overdue task. Any failed delivery fails
// the whole batch so it is retried on the next tick.
func (s *Scheduler) sendOverdue(ctx context.Context, user model.User, settings model.Settings, now time.Time) error {
	tasks, err := s.deps.Digests.OverdueTasks(ctx, user, now)
	if err != nil {
		return fmt.Errorf("list overdue: %w", err)
	}
	if len(tasks) == 0 {
		s.metrics.outcome(string(gate.ClassOverdue), outcomeEmpty)
		return nil
	}

	var errs []error
	for _, task := range tasks {
		messageID, err := s.deliver(ctx, user.TelegramID, render.OverdueMessage(task, settings.Location))
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", task.ID, err))
			continue
		}
		if err := s.deps.Tasks.SetCardMessageID(ctx, task.ID, messageID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Uint("task_id", task.ID).Msg("store card message id")
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.metrics.outcome(string(gate.ClassOverdue), outcomeSent)
	return nil
}
