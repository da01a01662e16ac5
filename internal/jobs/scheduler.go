package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"crmdesk-backend/internal/dealclose"
	"crmdesk-backend/internal/notifications"
	"crmdesk-backend/internal/realtime"
	"crmdesk-backend/internal/users"
)

const (
	scheduleBadgeReset      = "0 0 * * *"
	scheduleOverdueScan     = "0 9 * * *"
	schedulePendingReminder = "0 * * * *"

	// pendingReminderAge is how long a close request may sit before admins
	// get nudged.
	pendingReminderAge = 24 * time.Hour

	jobTimeout = 2 * time.Minute
)

type PerformanceResetter interface {
	ResetPerformancePoints(ctx context.Context, role string, now time.Time) (int64, error)
}

type AdminLister interface {
	ListByRole(ctx context.Context, role string) ([]users.User, error)
}

type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context) (int64, error)
}

type PendingLister interface {
	PendingOlderThan(ctx context.Context, age time.Duration) ([]dealclose.DealCloseRequest, error)
}

type Notifier interface {
	Create(ctx context.Context, params notifications.CreateParams) (notifications.Notification, error)
}

type Emitter interface {
	EmitToRooms(event string, rooms []string, payload interface{})
}

// Scheduler owns the recurring maintenance jobs. Failures are logged and
// swallowed so one bad run never takes the process down.
type Scheduler struct {
	cron     *cron.Cron
	users    PerformanceResetter
	admins   AdminLister
	tasks    OverdueNotifier
	pending  PendingLister
	notifier Notifier
	emitter  Emitter
	location *time.Location
	log      *slog.Logger
}

func NewScheduler(
	userStore PerformanceResetter,
	admins AdminLister,
	taskService OverdueNotifier,
	pending PendingLister,
	notifier Notifier,
	emitter Emitter,
	location *time.Location,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(location)),
		users:    userStore,
		admins:   admins,
		tasks:    taskService,
		pending:  pending,
		notifier: notifier,
		emitter:  emitter,
		location: location,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	entries := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{scheduleBadgeReset, "performance_badge_reset", s.resetPerformanceBadges},
		{scheduleOverdueScan, "overdue_task_scan", s.scanOverdueTasks},
		{schedulePendingReminder, "pending_close_reminder", s.remindPendingCloses},
	}
	for _, entry := range entries {
		entry := entry
		if _, err := s.cron.AddFunc(entry.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := entry.run(ctx); err != nil {
				s.log.Error("scheduled job failed", "job", entry.name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("registering job %s: %w", entry.name, err)
		}
	}
	s.cron.Start()
	s.log.Info("job scheduler started", "jobs", len(entries))
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// resetPerformanceBadges zeroes representative performance points at
// midnight and tells their dashboards to refresh.
func (s *Scheduler) resetPerformanceBadges(ctx context.Context) error {
	count, err := s.users.ResetPerformancePoints(ctx, users.RoleRepresentative, time.Now().In(s.location))
	if err != nil {
		return err
	}
	s.emitter.EmitToRooms(realtime.EventActivityBadgeRefresh,
		[]string{realtime.RoleRoom(users.RoleRepresentative)},
		map[string]interface{}{"resetCount": count})
	s.log.Info("performance badges reset", "count", count)
	return nil
}

func (s *Scheduler) scanOverdueTasks(ctx context.Context) error {
	count, err := s.tasks.NotifyOverdue(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		s.log.Info("overdue tasks flagged", "count", count)
	}
	return nil
}

// remindPendingCloses nudges admins about close requests that have waited
// past the reminder age.
func (s *Scheduler) remindPendingCloses(ctx context.Context) error {
	stale, err := s.pending.PendingOlderThan(ctx, pendingReminderAge)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	recipients := make([]string, 0)
	for _, role := range users.AdminRoles() {
		admins, err := s.admins.ListByRole(ctx, role)
		if err != nil {
			return err
		}
		for _, a := range admins {
			recipients = append(recipients, a.ID)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	_, err = s.notifier.Create(ctx, notifications.CreateParams{
		Type:       notifications.TypeSystem,
		Title:      "Pending deal close requests",
		Message:    fmt.Sprintf("%d deal close request(s) are awaiting review", len(stale)),
		EntityType: "deal_close_request",
		Recipients: recipients,
		Metadata:   map[string]interface{}{"pendingCount": len(stale)},
	})
	return err
}
