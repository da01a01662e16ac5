package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"crmdesk-backend/internal/cache"
)

type stubRepo struct {
	Repository
	created    []Notification
	markResult Notification
	markAdded  bool
	markErr    error
	allCount   int64
}

func (s *stubRepo) Create(_ context.Context, n Notification) error {
	s.created = append(s.created, n)
	return nil
}

func (s *stubRepo) MarkAsRead(_ context.Context, _, _ string, _ time.Time) (Notification, bool, error) {
	return s.markResult, s.markAdded, s.markErr
}

func (s *stubRepo) MarkAllAsRead(_ context.Context, _ string, _ time.Time) (int64, error) {
	return s.allCount, nil
}

type emitRecord struct {
	userID string
	event  string
}

type stubEmitter struct {
	emits []emitRecord
}

func (s *stubEmitter) EmitToRooms(event string, rooms []string, _ interface{}) {
	for _, room := range rooms {
		s.emits = append(s.emits, emitRecord{userID: room, event: event})
	}
}

func (s *stubEmitter) EmitToUser(userID, event string, _ interface{}) {
	s.emits = append(s.emits, emitRecord{userID: userID, event: event})
}

func newService(repo *stubRepo, emitter *stubEmitter) *Service {
	return NewService(repo, emitter, cache.NewNoop(), time.Minute, time.UTC)
}

func TestCreateDedupesRecipientsAndEmitsPerUser(t *testing.T) {
	repo := &stubRepo{}
	emitter := &stubEmitter{}
	svc := newService(repo, emitter)

	n, err := svc.Create(context.Background(), CreateParams{
		Type:       TypeLead,
		Title:      "Deal close requested",
		Message:    "review needed",
		Recipients: []string{"admin-1", "admin-2", "admin-1", " ", "admin-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.Recipients) != 2 {
		t.Fatalf("expected 2 recipients after dedupe, got %d", len(n.Recipients))
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one persisted document, got %d", len(repo.created))
	}
	if len(emitter.emits) != 2 {
		t.Fatalf("expected one emit per recipient, got %d", len(emitter.emits))
	}
	for _, e := range emitter.emits {
		if e.event != "notification:new" {
			t.Fatalf("unexpected event %q", e.event)
		}
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc := newService(&stubRepo{}, &stubEmitter{})

	if _, err := svc.Create(context.Background(), CreateParams{Type: "bogus", Recipients: []string{"u1"}}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateParams{Type: TypeSystem}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateParams{Type: TypeSystem, Recipients: []string{"  ", ""}}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient for blank recipients, got %v", err)
	}
}

func TestMarkAsReadEmitsOnlyOnFirstRead(t *testing.T) {
	repo := &stubRepo{markResult: Notification{ID: "n1"}, markAdded: true}
	emitter := &stubEmitter{}
	svc := newService(repo, emitter)

	if _, err := svc.MarkAsRead(context.Background(), "n1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emitter.emits) != 1 || emitter.emits[0].event != "notification:read" {
		t.Fatalf("expected one notification:read emit, got %v", emitter.emits)
	}

	// Second read of the same notification adds no receipt and stays quiet.
	repo.markAdded = false
	emitter.emits = nil
	n, err := svc.MarkAsRead(context.Background(), "n1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ID != "n1" {
		t.Fatalf("expected the existing document back, got %q", n.ID)
	}
	if len(emitter.emits) != 0 {
		t.Fatalf("expected no emit on repeat read, got %v", emitter.emits)
	}
}

func TestMarkAsReadNotFound(t *testing.T) {
	repo := &stubRepo{markErr: mongo.ErrNoDocuments}
	svc := newService(repo, &stubEmitter{})

	if _, err := svc.MarkAsRead(context.Background(), "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	repo := &stubRepo{allCount: 4}
	emitter := &stubEmitter{}
	svc := newService(repo, emitter)

	count, err := svc.MarkAllAsRead(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 marked, got %d", count)
	}
	if len(emitter.emits) != 1 || emitter.emits[0].event != "notification:allRead" {
		t.Fatalf("expected one notification:allRead emit, got %v", emitter.emits)
	}

	repo.allCount = 0
	emitter.emits = nil
	if _, err := svc.MarkAllAsRead(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emitter.emits) != 0 {
		t.Fatalf("expected no emit when nothing changed, got %v", emitter.emits)
	}
}
