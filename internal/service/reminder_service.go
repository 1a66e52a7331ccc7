package service

import (
	"context"
	"time"

	"home-tasks/internal/model"
	"home-tasks/internal/render"
)

// ReminderService builds the content of daily notifications.
type ReminderService struct {
	tasks *TaskService
}

func NewReminderService(tasks *TaskService) *ReminderService {
	return &ReminderService{tasks: tasks}
}

// DailyDigest collects overdue, today's and undated tasks of user as of now.
func (s *ReminderService) DailyDigest(ctx context.Context, user model.User, now time.Time) (render.Digest, error) {
	overdue, err := s.tasks.Overdue(ctx, user, now)
	if err != nil {
		return render.Digest{}, err
	}
	today, err := s.tasks.Today(ctx, user, now)
	if err != nil {
		return render.Digest{}, err
	}
	inbox, err := s.tasks.Inbox(ctx, user)
	if err != nil {
		return render.Digest{}, err
	}
	return render.Digest{Overdue: overdue, Today: today, Inbox: inbox}, nil
}

// OverdueTasks lists the tasks that get an individual overdue notice.
func (s *ReminderService) OverdueTasks(ctx context.Context, user model.User, now time.Time) ([]model.Task, error) {
	return s.tasks.Overdue(ctx, user, now)
}
