package stages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"crmdesk-backend/internal/cache"
	"crmdesk-backend/internal/db"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound          = errors.New("stage not found")
	ErrIndexOutOfRange   = errors.New("reorder index out of range")
	ErrInvalidTerminal   = errors.New("terminal flag must be empty, won, or lost")
	ErrDuplicateTerminal = errors.New("a stage with this terminal flag already exists")
)

const listCacheKey = "stages:list"

// Emitter pushes room-targeted events; satisfied by the realtime hub.
type Emitter interface {
	EmitToRooms(event string, rooms []string, payload interface{})
}

// LeadDeleter cascades lead deletion when a stage is removed; satisfied by
// the leads repository.
type LeadDeleter interface {
	DeleteByStage(ctx context.Context, stageID string) (int64, error)
}

type Service struct {
	repo     Repository
	leads    LeadDeleter
	txn      db.TxnRunner
	cache    cache.Cache
	cacheTTL time.Duration
	emitter  Emitter
	location *time.Location
}

func NewService(repo Repository, leads LeadDeleter, txn db.TxnRunner, cacheStore cache.Cache, cacheTTL time.Duration, emitter Emitter, location *time.Location) *Service {
	return &Service{
		repo:     repo,
		leads:    leads,
		txn:      txn,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		emitter:  emitter,
		location: location,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy string) (Stage, error) {
	terminal := strings.TrimSpace(req.IsTerminal)
	if !IsValidTerminal(terminal) {
		return Stage{}, ErrInvalidTerminal
	}
	if terminal != "" {
		count, err := s.repo.CountTerminal(ctx, terminal, "")
		if err != nil {
			return Stage{}, err
		}
		if count > 0 {
			return Stage{}, ErrDuplicateTerminal
		}
	}

	maxPos, found, err := s.repo.MaxPosition(ctx)
	if err != nil {
		return Stage{}, err
	}
	position := 0
	if found {
		position = maxPos + 1
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := time.Now().In(s.location)
	stage := Stage{
		ID:         primitive.NewObjectID().Hex(),
		Title:      strings.TrimSpace(req.Title),
		Position:   position,
		IsActive:   isActive,
		IsTerminal: terminal,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, stage); err != nil {
		return Stage{}, err
	}
	s.invalidate(ctx)
	return stage, nil
}

func (s *Service) List(ctx context.Context) ([]Stage, error) {
	if data, ok, err := s.cache.Get(ctx, listCacheKey); err == nil && ok {
		var cached []Stage
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	items, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(items); err == nil {
		_ = s.cache.Set(ctx, listCacheKey, data, s.cacheTTL)
	}
	return items, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Stage, error) {
	set := bson.M{}
	if req.Title != nil {
		set["title"] = strings.TrimSpace(*req.Title)
	}
	if req.IsActive != nil {
		set["isActive"] = *req.IsActive
	}
	if req.IsTerminal != nil {
		terminal := strings.TrimSpace(*req.IsTerminal)
		if !IsValidTerminal(terminal) {
			return Stage{}, ErrInvalidTerminal
		}
		if terminal != "" {
			count, err := s.repo.CountTerminal(ctx, terminal, id)
			if err != nil {
				return Stage{}, err
			}
			if count > 0 {
				return Stage{}, ErrDuplicateTerminal
			}
		}
		set["isTerminal"] = terminal
	}
	if len(set) == 0 {
		stage, err := s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return Stage{}, ErrNotFound
			}
			return Stage{}, err
		}
		return stage, nil
	}

	updated, err := s.repo.Update(ctx, id, set, time.Now().In(s.location))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Stage{}, ErrNotFound
		}
		return Stage{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a stage, cascades lead deletion and closes the position gap,
// all inside one transaction.
func (s *Service) Delete(ctx context.Context, id string) (int64, error) {
	stage, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	var deletedLeads int64
	err = s.txn.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := s.leads.DeleteByStage(txCtx, stage.ID)
		if err != nil {
			return err
		}
		deletedLeads = n

		if err := s.repo.Delete(txCtx, stage.ID); err != nil {
			return err
		}
		return s.repo.ShiftPositionsAfter(txCtx, stage.Position, time.Now().In(s.location))
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	s.invalidate(ctx)
	return deletedLeads, nil
}

// Reorder moves the stage at sourceIndex to destinationIndex (splice
// semantics) and rewrites every position to its new array index. The
// reordered list is broadcast to the caller-supplied rooms.
func (s *Service) Reorder(ctx context.Context, sourceIndex, destinationIndex int, rooms []string) ([]Stage, error) {
	items, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}

	reordered, err := splice(items, sourceIndex, destinationIndex)
	if err != nil {
		return nil, err
	}

	orderedIDs := make([]string, len(reordered))
	now := time.Now().In(s.location)
	for i := range reordered {
		reordered[i].Position = i
		reordered[i].UpdatedAt = now
		orderedIDs[i] = reordered[i].ID
	}

	if err := s.repo.SetPositions(ctx, orderedIDs, now); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	if s.emitter != nil {
		s.emitter.EmitToRooms("stages:reordered", rooms, map[string]interface{}{
			"stages": reordered,
		})
	}
	return reordered, nil
}

// WonStage resolves the stage a closed deal lands in: the explicit "won"
// terminal stage, falling back to the highest position for legacy pipelines
// without the flag.
func (s *Service) WonStage(ctx context.Context) (Stage, error) {
	stage, err := s.repo.FindTerminal(ctx, TerminalWon)
	if err == nil {
		return stage, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Stage{}, err
	}

	stage, err = s.repo.FindHighestPosition(ctx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Stage{}, ErrNotFound
		}
		return Stage{}, err
	}
	return stage, nil
}

// splice removes the element at src and reinserts it at dst. Both indices
// must address the current slice.
func splice(items []Stage, src, dst int) ([]Stage, error) {
	if src < 0 || src >= len(items) || dst < 0 || dst >= len(items) {
		return nil, ErrIndexOutOfRange
	}

	out := make([]Stage, 0, len(items))
	out = append(out, items[:src]...)
	out = append(out, items[src+1:]...)

	moved := items[src]
	out = append(out[:dst], append([]Stage{moved}, out[dst:]...)...)
	return out, nil
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Delete(ctx, listCacheKey)
}
