package leads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// stubRepo embeds the interface so only the methods a test exercises need
// implementations; calling anything else panics loudly.
type stubRepo struct {
	Repository
	created []Lead
}

func (s *stubRepo) Create(_ context.Context, lead Lead) error {
	s.created = append(s.created, lead)
	return nil
}

func (s *stubRepo) List(_ context.Context, _ ListFilter, _, _ int64) ([]Lead, error) {
	return []Lead{}, nil
}

func (s *stubRepo) Count(_ context.Context, _ ListFilter) (int64, error) {
	return 0, nil
}

type stubStages struct {
	titles map[string]string
}

func (s *stubStages) GetStageTitle(_ context.Context, id string) (string, error) {
	if title, ok := s.titles[id]; ok {
		return title, nil
	}
	return "", mongo.ErrNoDocuments
}

type stubCounter struct {
	calls []int
	err   error
}

func (s *stubCounter) IncTotalLeads(_ context.Context, _ string, delta int, _ time.Time) error {
	s.calls = append(s.calls, delta)
	return s.err
}

func newTestService(repo *stubRepo) (*Service, *stubCounter) {
	counter := &stubCounter{}
	stages := &stubStages{titles: map[string]string{"stage-1": "New"}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, stages, counter, time.UTC, log), counter
}

func TestNormalizeBudget(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "  ", want: ""},
		{in: "1000", want: "1000"},
		{in: "1000.50", want: "1000.5"},
		{in: "0", want: "0"},
		{in: "-5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1,000", wantErr: true},
	}

	for _, tt := range tests {
		got, err := normalizeBudget(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidBudget) {
				t.Fatalf("%q: expected ErrInvalidBudget, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestCreateDefaults(t *testing.T) {
	repo := &stubRepo{}
	svc, counter := newTestService(repo)

	lead, err := svc.Create(context.Background(), CreateRequest{
		Title:      "Acme deal",
		Name:       "Jane",
		StageID:    "stage-1",
		AssignedTo: "rep-1",
		Budget:     "25000.00",
	}, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lead.Source != SourceManual {
		t.Fatalf("expected default source %q, got %q", SourceManual, lead.Source)
	}
	if lead.DealStatus != DealStatusOpen {
		t.Fatalf("expected open deal, got %q", lead.DealStatus)
	}
	if lead.Budget != "25000" {
		t.Fatalf("expected canonical budget, got %q", lead.Budget)
	}
	if lead.Currency != "BDT" {
		t.Fatalf("expected default currency BDT, got %q", lead.Currency)
	}
	if len(lead.History) != 1 || lead.History[0].Action != "created" {
		t.Fatalf("expected a created history entry, got %v", lead.History)
	}
	if len(counter.calls) != 1 || counter.calls[0] != 1 {
		t.Fatalf("expected totalLeads increment, got %v", counter.calls)
	}
}

func TestCreateToleratesCounterFailure(t *testing.T) {
	repo := &stubRepo{}
	counter := &stubCounter{err: errors.New("write concern timeout")}
	stages := &stubStages{titles: map[string]string{"stage-1": "New"}}
	var logBuf bytes.Buffer
	svc := NewService(repo, stages, counter, time.UTC, slog.New(slog.NewTextHandler(&logBuf, nil)))

	if _, err := svc.Create(context.Background(), CreateRequest{
		Title:      "Acme deal",
		Name:       "Jane",
		StageID:    "stage-1",
		AssignedTo: "rep-1",
	}, "admin-1"); err != nil {
		t.Fatalf("counter failure must not fail the create: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected the lead persisted, got %d", len(repo.created))
	}
	if !strings.Contains(logBuf.String(), "totalLeads increment failed") {
		t.Fatalf("expected a warn log for the counter failure, got %q", logBuf.String())
	}
}

func TestCreateUnknownStage(t *testing.T) {
	repo := &stubRepo{}
	svc, _ := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateRequest{
		Title:   "Acme deal",
		Name:    "Jane",
		StageID: "missing",
	}, "admin-1")
	if !errors.Is(err, ErrStageNotFound) {
		t.Fatalf("expected ErrStageNotFound, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("lead must not be persisted on stage validation failure")
	}
}

func TestCreateInvalidSource(t *testing.T) {
	svc, _ := newTestService(&stubRepo{})

	_, err := svc.Create(context.Background(), CreateRequest{
		Title:   "Acme deal",
		Name:    "Jane",
		StageID: "stage-1",
		Source:  "carrier pigeon",
	}, "admin-1")
	if !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestListRejectsUnknownDealStatus(t *testing.T) {
	svc, _ := newTestService(&stubRepo{})

	_, _, err := svc.List(context.Background(), ListFilter{DealStatus: "pending"}, 20, 0)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	if _, _, err := svc.List(context.Background(), ListFilter{DealStatus: " Closed "}, 20, 0); err != nil {
		t.Fatalf("expected case-insensitive status to pass, got %v", err)
	}
}
