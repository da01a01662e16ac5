package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"crmdesk-backend/internal/notifications"
	"crmdesk-backend/internal/realtime"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrInvalidStatus  = errors.New("invalid task status")
	ErrInvalidDueDate = errors.New("invalid due date")
)

type Notifier interface {
	Create(ctx context.Context, params notifications.CreateParams) (notifications.Notification, error)
}

type Emitter interface {
	EmitToUser(userID, event string, payload interface{})
}

type Service struct {
	repo     Repository
	notifier Notifier
	emitter  Emitter
	location *time.Location
	log      *slog.Logger
}

func NewService(repo Repository, notifier Notifier, emitter Emitter, location *time.Location, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		emitter:  emitter,
		location: location,
		log:      log,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy string) (Task, error) {
	dueDate, err := parseDueDate(req.DueDate, s.location)
	if err != nil {
		return Task{}, ErrInvalidDueDate
	}

	now := time.Now().In(s.location)
	task, err := s.repo.Create(ctx, Task{
		Title:       req.Title,
		Description: req.Description,
		LeadID:      req.LeadID,
		AssignedTo:  req.AssignedTo,
		CreatedBy:   createdBy,
		DueDate:     dueDate,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Task{}, err
	}

	s.emitter.EmitToUser(task.AssignedTo, realtime.EventTaskCreated, task)
	if task.AssignedTo != createdBy {
		if _, err := s.notifier.Create(ctx, notifications.CreateParams{
			Type:        notifications.TypeTask,
			Title:       "New task assigned",
			Message:     fmt.Sprintf("You have been assigned a task: %s", task.Title),
			EntityType:  "task",
			EntityID:    task.ID,
			TriggeredBy: createdBy,
			Recipients:  []string{task.AssignedTo},
		}); err != nil {
			s.log.Error("creating task notification", "task_id", task.ID, "error", err)
		}
	}
	return task, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Task{}, ErrNotFound
	}
	return task, err
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Task, int64, error) {
	if filter.Status != "" && !IsValidStatus(filter.Status) {
		return nil, 0, ErrInvalidStatus
	}
	items, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Task, error) {
	now := time.Now().In(s.location)
	set := bson.M{}
	if req.Title != nil {
		set["title"] = *req.Title
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.DueDate != nil {
		dueDate, err := parseDueDate(*req.DueDate, s.location)
		if err != nil {
			return Task{}, ErrInvalidDueDate
		}
		set["dueDate"] = dueDate
		// Pushing the due date out re-arms the overdue alert.
		set["overdueNotified"] = false
	}
	if req.Status != nil {
		if !IsValidStatus(*req.Status) {
			return Task{}, ErrInvalidStatus
		}
		set["status"] = *req.Status
		if *req.Status == StatusDone {
			set["completedAt"] = now
		}
	}
	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}

	task, err := s.repo.Update(ctx, id, set, now)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Task{}, ErrNotFound
	}
	return task, err
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// NotifyOverdue alerts assignees about tasks past their due date, at most
// once per task. The morning scan job calls it.
func (s *Service) NotifyOverdue(ctx context.Context) (int64, error) {
	now := time.Now().In(s.location)
	overdue, err := s.repo.FindOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(overdue))
	for _, task := range overdue {
		if _, err := s.notifier.Create(ctx, notifications.CreateParams{
			Type:       notifications.TypeTask,
			Title:      "Task overdue",
			Message:    fmt.Sprintf("Task %q was due on %s", task.Title, task.DueDate.In(s.location).Format("2006-01-02")),
			EntityType: "task",
			EntityID:   task.ID,
			Recipients: []string{task.AssignedTo},
		}); err != nil {
			s.log.Error("creating overdue notification", "task_id", task.ID, "error", err)
			continue
		}
		ids = append(ids, task.ID)
	}
	return s.repo.MarkOverdueNotified(ctx, ids, now)
}

func parseDueDate(value string, location *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", value, location)
}
