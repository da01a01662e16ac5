package notifications

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"crmdesk-backend/internal/cache"
	"crmdesk-backend/internal/realtime"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound    = errors.New("notification not found")
	ErrInvalidType = errors.New("invalid notification type")
	ErrNoRecipient = errors.New("at least one recipient required")
)

// Emitter pushes room-targeted events; satisfied by the realtime hub.
type Emitter interface {
	EmitToRooms(event string, rooms []string, payload interface{})
	EmitToUser(userID, event string, payload interface{})
}

type Service struct {
	repo     Repository
	emitter  Emitter
	cache    cache.Cache
	cacheTTL time.Duration
	location *time.Location
}

func NewService(repo Repository, emitter Emitter, cacheStore cache.Cache, cacheTTL time.Duration, location *time.Location) *Service {
	return &Service{
		repo:     repo,
		emitter:  emitter,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		location: location,
	}
}

type CreateParams struct {
	Type        string
	Title       string
	Message     string
	EntityType  string
	EntityID    string
	TriggeredBy string
	Recipients  []string
	Metadata    map[string]interface{}
}

// Create persists one document addressed to all recipients, then emits one
// realtime event per recipient room. Emission is fire-and-forget.
func (s *Service) Create(ctx context.Context, params CreateParams) (Notification, error) {
	if !IsValidType(params.Type) {
		return Notification{}, ErrInvalidType
	}

	recipients := dedupe(params.Recipients)
	if len(recipients) == 0 {
		return Notification{}, ErrNoRecipient
	}

	now := time.Now().In(s.location)
	n := Notification{
		ID:          primitive.NewObjectID().Hex(),
		Type:        params.Type,
		Title:       strings.TrimSpace(params.Title),
		Message:     strings.TrimSpace(params.Message),
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		TriggeredBy: params.TriggeredBy,
		Recipients:  recipients,
		Metadata:    params.Metadata,
		CreatedAt:   now,
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return Notification{}, err
	}

	for _, userID := range recipients {
		s.invalidateUnread(ctx, userID)
		if s.emitter != nil {
			s.emitter.EmitToUser(userID, realtime.EventNotificationNew, map[string]interface{}{
				"notification": n,
			})
		}
	}
	return n, nil
}

func (s *Service) ListForRecipient(ctx context.Context, userID string, limit, offset int64) ([]Notification, int64, error) {
	items, err := s.repo.ListForRecipient(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountForRecipient(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// MarkAsRead is idempotent: marking an already-read notification returns the
// document unchanged.
func (s *Service) MarkAsRead(ctx context.Context, id, userID string) (Notification, error) {
	n, updated, err := s.repo.MarkAsRead(ctx, strings.TrimSpace(id), userID, time.Now().In(s.location))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}

	if updated {
		s.invalidateUnread(ctx, userID)
		if s.emitter != nil {
			s.emitter.EmitToUser(userID, realtime.EventNotificationRead, map[string]interface{}{
				"notificationId": n.ID,
			})
		}
	}
	return n, nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.MarkAllAsRead(ctx, userID, time.Now().In(s.location))
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.invalidateUnread(ctx, userID)
		if s.emitter != nil {
			s.emitter.EmitToUser(userID, realtime.EventNotificationAllRead, map[string]interface{}{
				"count": count,
			})
		}
	}
	return count, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	key := unreadCacheKey(userID)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok && len(data) > 0 {
		if count, perr := parseInt64(data); perr == nil {
			return count, nil
		}
	}

	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	_ = s.cache.Set(ctx, key, formatInt64(count), s.cacheTTL)
	return count, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if err := s.repo.Delete(ctx, n.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	for _, userID := range n.Recipients {
		s.invalidateUnread(ctx, userID)
	}
	return nil
}

func (s *Service) invalidateUnread(ctx context.Context, userID string) {
	_ = s.cache.Delete(ctx, unreadCacheKey(userID))
}

func unreadCacheKey(userID string) string {
	return "notifications:unread:" + userID
}

func parseInt64(data []byte) (int64, error) {
	return strconv.ParseInt(string(data), 10, 64)
}

func formatInt64(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
