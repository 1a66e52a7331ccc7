// Package scheduler decides on every tick which notifications fire: due
// reminders, the daily digest and the daily overdue notices.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"home-tasks/internal/gate"
	"home-tasks/internal/model"
	"home-tasks/internal/notify"
	"home-tasks/internal/render"
)

type ReminderStore interface {
	ListDue(ctx context.Context, now time.Time) ([]model.DueReminder, error)
	MarkSent(ctx context.Context, id uint) error
}

type TaskStore interface {
	FindByID(ctx context.Context, id uint) (*model.Task, error)
	SetCardMessageID(ctx context.Context, taskID uint, messageID int) error
}

type UserStore interface {
	ListAll(ctx context.Context) ([]model.User, error)
}

// DigestSource supplies the content of the daily notifications.
type DigestSource interface {
	DailyDigest(ctx context.Context, user model.User, now time.Time) (render.Digest, error)
	OverdueTasks(ctx context.Context, user model.User, now time.Time) ([]model.Task, error)
}

// Alerter reports failures to operators. chatID 0 means the admin chats.
type Alerter interface {
	Notify(ctx context.Context, err error, where string, chatID int64)
}

type Deps struct {
	Reminders ReminderStore
	Tasks     TaskStore
	Users     UserStore
	Digests   DigestSource
	Gate      *gate.Gate
	Sink      notify.Sink
	Alerts    Alerter
}

type Config struct {
	DeliveryTimeout time.Duration
	DigestWindow    time.Duration
	OverdueOffset   time.Duration
	Workers         int
}

func (c Config) withDefaults() Config {
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.DigestWindow <= 0 {
		c.DigestWindow = 2 * time.Minute
	}
	if c.OverdueOffset <= 0 {
		c.OverdueOffset = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Class is one kind of notification evaluated on every tick.
type Class interface {
	Name() string
	Evaluate(ctx context.Context, now time.Time) error
}

// Scheduler evaluates the notification classes in order on each tick.
type Scheduler struct {
	deps    Deps
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
	classes []Class

	running sync.Mutex
}

type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(deps Deps, cfg Config, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		deps: deps,
		cfg:  cfg.withDefaults(),
		log:  log.With().Str("component", "scheduler").Logger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.classes = []Class{
		&dueReminders{s: s},
		&dailyClass{s: s, class: gate.ClassDigest, deliver: s.sendDigest},
		&dailyClass{s: s, class: gate.ClassOverdue, offset: s.cfg.OverdueOffset, deliver: s.sendOverdue},
	}
	return s
}

// Classes returns the notification classes in evaluation order.
func (s *Scheduler) Classes() []Class {
	return append([]Class(nil), s.classes...)
}

// Tick runs one evaluation cycle. A tick started while another is still
// running is skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.metrics.skippedTicks.Inc()
		s.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer s.running.Unlock()

	started := time.Now()
	now := s.now().UTC()
	log := s.log.With().Str("tick", uuid.NewString()).Time("at", now).Logger()
	ctx = log.WithContext(ctx)

	for _, c := range s.classes {
		s.runClass(ctx, c, now)
	}
	s.metrics.observeTick(time.Since(started))
	log.Debug().Dur("took", time.Since(started)).Msg("tick done")
}

func (s *Scheduler) runClass(ctx context.Context, c Class, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.alert(ctx, fmt.Errorf("panic: %v", r), c.Name())
		}
	}()
	if err := c.Evaluate(ctx, now); err != nil {
		s.alert(ctx, err, c.Name())
	}
}

func (s *Scheduler) alert(ctx context.Context, err error, where string) {
	if s.deps.Alerts == nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("where", where).Msg("scheduler failure")
		return
	}
	s.deps.Alerts.Notify(ctx, err, where, 0)
}

// deliver sends msg bounded by the delivery timeout.
func (s *Scheduler) deliver(ctx context.Context, chatID int64, msg notify.Message) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	return s.deps.Sink.Send(ctx, chatID, msg)
}

// deliveryFailed records a failed delivery. Unavailable recipients are
// only logged.
func (s *Scheduler) deliveryFailed(ctx context.Context, class string, user model.User, err error) {
	if errors.Is(err, notify.ErrRecipientUnavailable) {
		s.metrics.outcome(class, outcomeUnavailable)
		zerolog.Ctx(ctx).Warn().Err(err).Str("class", class).Uint("user_id", user.ID).Msg("recipient unavailable")
		return
	}
	s.metrics.outcome(class, outcomeFailed)
	s.alert(ctx, err, fmt.Sprintf("%s user=%d", class, user.ID))
}
