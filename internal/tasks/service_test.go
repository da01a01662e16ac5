package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"crmdesk-backend/internal/notifications"
)

type stubRepo struct {
	Repository
	created  []Task
	overdue  []Task
	notified []string
}

func (s *stubRepo) Create(_ context.Context, task Task) (Task, error) {
	task.ID = "task-1"
	s.created = append(s.created, task)
	return task, nil
}

func (s *stubRepo) Update(_ context.Context, id string, set bson.M, now time.Time) (Task, error) {
	task := Task{ID: id, UpdatedAt: now}
	if status, ok := set["status"].(string); ok {
		task.Status = status
	}
	if completedAt, ok := set["completedAt"].(time.Time); ok {
		task.CompletedAt = &completedAt
	}
	return task, nil
}

func (s *stubRepo) FindOverdue(_ context.Context, _ time.Time) ([]Task, error) {
	return s.overdue, nil
}

func (s *stubRepo) MarkOverdueNotified(_ context.Context, ids []string, _ time.Time) (int64, error) {
	s.notified = append(s.notified, ids...)
	return int64(len(ids)), nil
}

type stubNotifier struct {
	params []notifications.CreateParams
	err    error
}

func (s *stubNotifier) Create(_ context.Context, params notifications.CreateParams) (notifications.Notification, error) {
	if s.err != nil {
		return notifications.Notification{}, s.err
	}
	s.params = append(s.params, params)
	return notifications.Notification{}, nil
}

type stubEmitter struct {
	events []string
}

func (s *stubEmitter) EmitToUser(_, event string, _ interface{}) {
	s.events = append(s.events, event)
}

func newTestService(repo *stubRepo, notifier *stubNotifier) (*Service, *stubEmitter) {
	emitter := &stubEmitter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, notifier, emitter, time.UTC, log), emitter
}

func TestCreateEmitsAndNotifiesAssignee(t *testing.T) {
	repo := &stubRepo{}
	notifier := &stubNotifier{}
	svc, emitter := newTestService(repo, notifier)

	task, err := svc.Create(context.Background(), CreateRequest{
		Title:      "Call Acme",
		AssignedTo: "rep-1",
		DueDate:    "2026-09-15",
	}, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", task.Status)
	}
	if len(emitter.events) != 1 || emitter.events[0] != "task:created" {
		t.Fatalf("expected a task:created emit, got %v", emitter.events)
	}
	if len(notifier.params) != 1 || notifier.params[0].Recipients[0] != "rep-1" {
		t.Fatalf("expected a notification to rep-1, got %v", notifier.params)
	}
}

func TestCreateSelfAssignedSkipsNotification(t *testing.T) {
	repo := &stubRepo{}
	notifier := &stubNotifier{}
	svc, emitter := newTestService(repo, notifier)

	_, err := svc.Create(context.Background(), CreateRequest{
		Title:      "Prepare quote",
		AssignedTo: "rep-1",
		DueDate:    "2026-09-15T10:00:00Z",
	}, "rep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.params) != 0 {
		t.Fatalf("self-assigned task must not notify, got %v", notifier.params)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected the realtime emit regardless, got %v", emitter.events)
	}
}

func TestCreateInvalidDueDate(t *testing.T) {
	svc, _ := newTestService(&stubRepo{}, &stubNotifier{})

	_, err := svc.Create(context.Background(), CreateRequest{
		Title:      "Call Acme",
		AssignedTo: "rep-1",
		DueDate:    "next tuesday",
	}, "admin-1")
	if !errors.Is(err, ErrInvalidDueDate) {
		t.Fatalf("expected ErrInvalidDueDate, got %v", err)
	}
}

func TestUpdateDoneSetsCompletedAt(t *testing.T) {
	svc, _ := newTestService(&stubRepo{}, &stubNotifier{})

	status := StatusDone
	task, err := svc.Update(context.Background(), "task-1", UpdateRequest{Status: &status})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != StatusDone {
		t.Fatalf("expected done, got %q", task.Status)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completedAt to be set")
	}
}

func TestNotifyOverdueFlagsOncePerTask(t *testing.T) {
	repo := &stubRepo{overdue: []Task{
		{ID: "t1", Title: "Call", AssignedTo: "rep-1", DueDate: time.Now().Add(-48 * time.Hour)},
		{ID: "t2", Title: "Email", AssignedTo: "rep-2", DueDate: time.Now().Add(-24 * time.Hour)},
	}}
	notifier := &stubNotifier{}
	svc, _ := newTestService(repo, notifier)

	count, err := svc.NotifyOverdue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 flagged, got %d", count)
	}
	if len(notifier.params) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.params))
	}
	if len(repo.notified) != 2 || repo.notified[0] != "t1" || repo.notified[1] != "t2" {
		t.Fatalf("expected both tasks flagged, got %v", repo.notified)
	}
}

func TestNotifyOverdueSkipsFailedNotifications(t *testing.T) {
	repo := &stubRepo{overdue: []Task{
		{ID: "t1", Title: "Call", AssignedTo: "rep-1", DueDate: time.Now().Add(-time.Hour)},
	}}
	notifier := &stubNotifier{err: errors.New("broker down")}
	svc, _ := newTestService(repo, notifier)

	count, err := svc.NotifyOverdue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("a task whose notification failed must stay unflagged, got %d", count)
	}
	if len(repo.notified) != 0 {
		t.Fatalf("expected no flags, got %v", repo.notified)
	}
}
