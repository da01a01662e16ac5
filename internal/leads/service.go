package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound      = errors.New("lead not found")
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidBudget = errors.New("invalid budget")
	ErrStageNotFound = errors.New("stage not found")
	ErrInvalidStatus = errors.New("invalid deal status filter")
)

var validDealStatuses = map[string]struct{}{
	DealStatusOpen:             {},
	DealStatusClosingRequested: {},
	DealStatusClosed:           {},
	DealStatusLost:             {},
}

// StageChecker verifies stage references; satisfied by the stages repository.
type StageChecker interface {
	GetStageTitle(ctx context.Context, id string) (string, error)
}

// Counter tracks the assignee's denormalized totalLeads; satisfied by the
// users repository.
type Counter interface {
	IncTotalLeads(ctx context.Context, userID string, delta int, now time.Time) error
}

type Service struct {
	repo     Repository
	stages   StageChecker
	counter  Counter
	location *time.Location
	log      *slog.Logger
}

func NewService(repo Repository, stages StageChecker, counter Counter, location *time.Location, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		stages:   stages,
		counter:  counter,
		location: location,
		log:      log,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy string) (Lead, error) {
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = SourceManual
	}
	if !IsValidSource(source) {
		return Lead{}, ErrInvalidSource
	}

	budget, err := normalizeBudget(req.Budget)
	if err != nil {
		return Lead{}, err
	}

	if _, err := s.stages.GetStageTitle(ctx, req.StageID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrStageNotFound
		}
		return Lead{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" && budget != "" {
		currency = "BDT"
	}

	now := time.Now().In(s.location)
	lead := Lead{
		ID:         primitive.NewObjectID().Hex(),
		Title:      strings.TrimSpace(req.Title),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Phone:      strings.TrimSpace(req.Phone),
		Source:     source,
		StageID:    req.StageID,
		AssignedTo: strings.TrimSpace(req.AssignedTo),
		CreatedBy:  createdBy,
		Budget:     budget,
		Currency:   currency,
		DealStatus: DealStatusOpen,
		History: []HistoryEntry{{
			Action:      "created",
			ChangedBy:   createdBy,
			Timestamp:   now,
			Description: "Lead created",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, lead); err != nil {
		return Lead{}, err
	}

	if err := s.counter.IncTotalLeads(ctx, lead.AssignedTo, 1, now); err != nil {
		// Counter drift is tolerated; the authoritative count is a query.
		s.log.Warn("lead create: totalLeads increment failed",
			slog.String("lead_id", lead.ID),
			slog.String("assigned_to", lead.AssignedTo),
			slog.String("error", err.Error()),
		)
	}
	return lead, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Lead, error) {
	lead, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return lead, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Lead, int64, error) {
	filter.DealStatus = strings.ToLower(strings.TrimSpace(filter.DealStatus))
	if filter.DealStatus != "" {
		if _, ok := validDealStatuses[filter.DealStatus]; !ok {
			return nil, 0, ErrInvalidStatus
		}
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

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest, changedBy string) (Lead, error) {
	now := time.Now().In(s.location)
	set := bson.M{}
	history := make([]HistoryEntry, 0, 4)

	record := func(field, description string) {
		history = append(history, HistoryEntry{
			Action:      "updated",
			Field:       field,
			ChangedBy:   changedBy,
			Timestamp:   now,
			Description: description,
		})
	}

	if req.Title != nil {
		set["title"] = strings.TrimSpace(*req.Title)
		record("title", "Title changed")
	}
	if req.Name != nil {
		set["name"] = strings.TrimSpace(*req.Name)
		record("name", "Contact name changed")
	}
	if req.Email != nil {
		set["email"] = strings.TrimSpace(*req.Email)
		record("email", "Email changed")
	}
	if req.Phone != nil {
		set["phone"] = strings.TrimSpace(*req.Phone)
		record("phone", "Phone changed")
	}
	if req.Source != nil {
		source := strings.ToLower(strings.TrimSpace(*req.Source))
		if !IsValidSource(source) {
			return Lead{}, ErrInvalidSource
		}
		set["source"] = source
		record("source", "Source changed")
	}
	if req.AssignedTo != nil {
		set["assignedTo"] = strings.TrimSpace(*req.AssignedTo)
		record("assignedTo", "Reassigned")
	}
	if req.Budget != nil {
		budget, err := normalizeBudget(*req.Budget)
		if err != nil {
			return Lead{}, err
		}
		set["budget"] = budget
		record("budget", "Budget changed")
	}
	if req.Currency != nil {
		set["currency"] = strings.ToUpper(strings.TrimSpace(*req.Currency))
		record("currency", "Currency changed")
	}

	if len(set) == 0 {
		return s.GetByID(ctx, id)
	}

	updated, err := s.repo.Update(ctx, id, set, history, now)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return updated, nil
}

func (s *Service) MoveStage(ctx context.Context, id, stageID, changedBy string) (Lead, error) {
	title, err := s.stages.GetStageTitle(ctx, stageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrStageNotFound
		}
		return Lead{}, err
	}

	now := time.Now().In(s.location)
	entry := HistoryEntry{
		Action:      "stage_changed",
		Field:       "stageId",
		ChangedBy:   changedBy,
		Timestamp:   now,
		Description: fmt.Sprintf("Moved to stage %q", title),
	}

	updated, err := s.repo.SetStage(ctx, id, stageID, entry, now)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return updated, nil
}

func (s *Service) AddNote(ctx context.Context, id, text, createdBy string) (Lead, error) {
	now := time.Now().In(s.location)
	note := Note{
		ID:        primitive.NewObjectID().Hex(),
		Text:      strings.TrimSpace(text),
		CreatedBy: createdBy,
		CreatedAt: now,
	}

	updated, err := s.repo.AddNote(ctx, id, note, now)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, lead.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}
	_ = s.counter.IncTotalLeads(ctx, lead.AssignedTo, -1, time.Now().In(s.location))
	return nil
}

func normalizeBudget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return "", ErrInvalidBudget
	}
	return d.String(), nil
}
