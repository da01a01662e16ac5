package dealclose

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"crmdesk-backend/internal/db"
	"crmdesk-backend/internal/leads"
	"crmdesk-backend/internal/notifications"
	"crmdesk-backend/internal/stages"
	"crmdesk-backend/internal/users"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, req DealCloseRequest) (DealCloseRequest, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(DealCloseRequest), args.Error(1)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (DealCloseRequest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(DealCloseRequest), args.Error(1)
}

func (m *mockRepo) FindPendingByLead(ctx context.Context, leadID string) (DealCloseRequest, error) {
	args := m.Called(ctx, leadID)
	return args.Get(0).(DealCloseRequest), args.Error(1)
}

func (m *mockRepo) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]DealCloseRequest, error) {
	args := m.Called(ctx, filter, limit, offset)
	return args.Get(0).([]DealCloseRequest), args.Error(1)
}

func (m *mockRepo) Count(ctx context.Context, filter ListFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) Approve(ctx context.Context, id, incentiveAmount, approvedBy string, at time.Time) (DealCloseRequest, error) {
	args := m.Called(ctx, id, incentiveAmount, approvedBy, at)
	return args.Get(0).(DealCloseRequest), args.Error(1)
}

func (m *mockRepo) Reject(ctx context.Context, id, reason, rejectedBy string, at time.Time) (DealCloseRequest, error) {
	args := m.Called(ctx, id, reason, rejectedBy, at)
	return args.Get(0).(DealCloseRequest), args.Error(1)
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]DealCloseRequest, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]DealCloseRequest), args.Error(1)
}

type mockLeadStore struct {
	mock.Mock
}

func (m *mockLeadStore) GetByID(ctx context.Context, id string) (leads.Lead, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(leads.Lead), args.Error(1)
}

func (m *mockLeadStore) MarkClosingRequested(ctx context.Context, id string, history leads.HistoryEntry, now time.Time) (leads.Lead, error) {
	args := m.Called(ctx, id, history, now)
	return args.Get(0).(leads.Lead), args.Error(1)
}

func (m *mockLeadStore) CloseDeal(ctx context.Context, id, stageID, closedBy string, history leads.HistoryEntry, now time.Time) (leads.Lead, error) {
	args := m.Called(ctx, id, stageID, closedBy, history, now)
	return args.Get(0).(leads.Lead), args.Error(1)
}

func (m *mockLeadStore) ReopenDeal(ctx context.Context, id, restoreStageID, rejectionReason string, history leads.HistoryEntry, now time.Time) (leads.Lead, error) {
	args := m.Called(ctx, id, restoreStageID, rejectionReason, history, now)
	return args.Get(0).(leads.Lead), args.Error(1)
}

func (m *mockLeadStore) MarkLost(ctx context.Context, id, lostReason string, history leads.HistoryEntry, now time.Time) (leads.Lead, error) {
	args := m.Called(ctx, id, lostReason, history, now)
	return args.Get(0).(leads.Lead), args.Error(1)
}

func (m *mockLeadStore) ResetToOpen(ctx context.Context, id string, history leads.HistoryEntry, now time.Time) (leads.Lead, error) {
	args := m.Called(ctx, id, history, now)
	return args.Get(0).(leads.Lead), args.Error(1)
}

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (users.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(users.User), args.Error(1)
}

func (m *mockUserStore) ListByRole(ctx context.Context, role string) ([]users.User, error) {
	args := m.Called(ctx, role)
	return args.Get(0).([]users.User), args.Error(1)
}

func (m *mockUserStore) NormalizeConvertedLeads(ctx context.Context, id string, ids []string, now time.Time) error {
	return m.Called(ctx, id, ids, now).Error(0)
}

func (m *mockUserStore) AddConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error {
	return m.Called(ctx, userID, leadID, now).Error(0)
}

func (m *mockUserStore) RemoveConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error {
	return m.Called(ctx, userID, leadID, now).Error(0)
}

func (m *mockUserStore) RemoveConvertedLeadFromAll(ctx context.Context, leadID string, now time.Time) error {
	return m.Called(ctx, leadID, now).Error(0)
}

func (m *mockUserStore) IncPerformancePoint(ctx context.Context, userID string, delta int, now time.Time) error {
	return m.Called(ctx, userID, delta, now).Error(0)
}

type mockStageFinder struct {
	mock.Mock
}

func (m *mockStageFinder) WonStage(ctx context.Context) (stages.Stage, error) {
	args := m.Called(ctx)
	return args.Get(0).(stages.Stage), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Create(ctx context.Context, params notifications.CreateParams) (notifications.Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(notifications.Notification), args.Error(1)
}

type mockEmitter struct {
	mock.Mock
}

func (m *mockEmitter) EmitToUser(userID, event string, payload interface{}) {
	m.Called(userID, event, payload)
}

type serviceMocks struct {
	repo     *mockRepo
	leads    *mockLeadStore
	users    *mockUserStore
	stages   *mockStageFinder
	notifier *mockNotifier
	emitter  *mockEmitter
}

func newTestService(gracePeriod time.Duration) (*Service, *serviceMocks) {
	m := &serviceMocks{
		repo:     &mockRepo{},
		leads:    &mockLeadStore{},
		users:    &mockUserStore{},
		stages:   &mockStageFinder{},
		notifier: &mockNotifier{},
		emitter:  &mockEmitter{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(m.repo, m.leads, m.users, m.stages, m.notifier, m.emitter,
		db.PassthroughTxnRunner{}, gracePeriod, time.UTC, log)
	return svc, m
}

func TestRequestCloseHappyPath(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.leads.On("GetByID", ctx, "lead-1").Return(leads.Lead{
		ID:         "lead-1",
		Title:      "Acme deal",
		StageID:    "stage-3",
		AssignedTo: "rep-1",
		DealStatus: leads.DealStatusOpen,
	}, nil)
	m.repo.On("Create", ctx, mock.MatchedBy(func(req DealCloseRequest) bool {
		return req.LeadID == "lead-1" &&
			req.Representative == "rep-1" &&
			req.Status == StatusPending &&
			req.PreviousStageID == "stage-3"
	})).Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Status: StatusPending}, nil)
	m.leads.On("MarkClosingRequested", ctx, "lead-1", mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1", DealStatus: leads.DealStatusClosingRequested}, nil)
	m.users.On("ListByRole", ctx, users.RoleAdmin).Return([]users.User{{ID: "admin-1"}}, nil)
	m.users.On("ListByRole", ctx, users.RoleSuperAdmin).Return([]users.User{}, nil)
	m.notifier.On("Create", ctx, mock.MatchedBy(func(p notifications.CreateParams) bool {
		return p.Type == notifications.TypeLead && len(p.Recipients) == 1 && p.Recipients[0] == "admin-1"
	})).Return(notifications.Notification{}, nil)

	created, err := svc.RequestClose(ctx, "lead-1", "rep-1")
	assert.NoError(t, err)
	assert.Equal(t, "req-1", created.ID)
	m.repo.AssertExpectations(t)
	m.leads.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
}

func TestRequestCloseWrongStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr error
	}{
		{name: "closed", status: leads.DealStatusClosed, wantErr: ErrAlreadyClosed},
		{name: "already requested", status: leads.DealStatusClosingRequested, wantErr: ErrAlreadyRequested},
		{name: "lost", status: leads.DealStatusLost, wantErr: ErrLeadLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService(time.Hour)
			ctx := context.Background()
			m.leads.On("GetByID", ctx, "lead-1").Return(leads.Lead{
				ID:         "lead-1",
				AssignedTo: "rep-1",
				DealStatus: tt.status,
			}, nil)

			_, err := svc.RequestClose(ctx, "lead-1", "rep-1")
			assert.ErrorIs(t, err, tt.wantErr)
			m.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestRequestCloseNotAssigned(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()
	m.leads.On("GetByID", ctx, "lead-1").Return(leads.Lead{
		ID:         "lead-1",
		AssignedTo: "rep-1",
		DealStatus: leads.DealStatusOpen,
	}, nil)

	_, err := svc.RequestClose(ctx, "lead-1", "rep-2")
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestApproveHappyPath(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	pending := DealCloseRequest{
		ID:             "req-1",
		LeadID:         "lead-1",
		Representative: "rep-1",
		Status:         StatusPending,
	}
	m.repo.On("GetByID", ctx, "req-1").Return(pending, nil)
	m.stages.On("WonStage", ctx).Return(stages.Stage{ID: "stage-won", IsTerminal: stages.TerminalWon}, nil)
	m.repo.On("Approve", ctx, "req-1", "5000", "admin-1", mock.Anything).
		Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Representative: "rep-1", Status: StatusApproved, IncentiveAmount: "5000"}, nil)
	m.leads.On("CloseDeal", ctx, "lead-1", "stage-won", "admin-1", mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1", DealStatus: leads.DealStatusClosed}, nil)
	m.users.On("GetByID", ctx, "rep-1").Return(users.User{ID: "rep-1"}, nil)
	m.users.On("AddConvertedLead", ctx, "rep-1", "lead-1", mock.Anything).Return(nil)
	m.users.On("IncPerformancePoint", ctx, "rep-1", 1, mock.Anything).Return(nil)
	m.notifier.On("Create", ctx, mock.MatchedBy(func(p notifications.CreateParams) bool {
		return len(p.Recipients) == 1 && p.Recipients[0] == "rep-1"
	})).Return(notifications.Notification{}, nil)

	approved, err := svc.Approve(ctx, "req-1", "5000", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "5000", approved.IncentiveAmount)
	m.users.AssertNotCalled(t, "NormalizeConvertedLeads", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.repo.AssertExpectations(t)
	m.leads.AssertExpectations(t)
	m.users.AssertExpectations(t)
}

func TestApproveInvalidIncentive(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	for _, amount := range []string{"", "0", "-10", "abc"} {
		_, err := svc.Approve(ctx, "req-1", amount, "admin-1")
		assert.ErrorIs(t, err, ErrInvalidIncentive, "amount %q", amount)
	}
	m.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestApproveAlreadyProcessed(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("GetByID", ctx, "req-1").Return(DealCloseRequest{ID: "req-1", Status: StatusApproved}, nil)

	_, err := svc.Approve(ctx, "req-1", "100", "admin-1")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	m.leads.AssertNotCalled(t, "CloseDeal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApproveLosesRace(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("GetByID", ctx, "req-1").Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Status: StatusPending}, nil)
	m.stages.On("WonStage", ctx).Return(stages.Stage{ID: "stage-won"}, nil)
	m.repo.On("Approve", ctx, "req-1", "100", "admin-1", mock.Anything).
		Return(DealCloseRequest{}, mongo.ErrNoDocuments)

	_, err := svc.Approve(ctx, "req-1", "100", "admin-1")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	m.leads.AssertNotCalled(t, "CloseDeal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectRestoresPreviousStage(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	pending := DealCloseRequest{
		ID:              "req-1",
		LeadID:          "lead-1",
		Representative:  "rep-1",
		Status:          StatusPending,
		PreviousStageID: "stage-3",
	}
	m.repo.On("GetByID", ctx, "req-1").Return(pending, nil)
	m.repo.On("Reject", ctx, "req-1", "budget too low", "admin-1", mock.Anything).
		Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Representative: "rep-1", Status: StatusRejected, RejectionReason: "budget too low"}, nil)
	m.leads.On("ReopenDeal", ctx, "lead-1", "stage-3", "budget too low", mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1", DealStatus: leads.DealStatusOpen, StageID: "stage-3"}, nil)
	m.users.On("RemoveConvertedLeadFromAll", ctx, "lead-1", mock.Anything).Return(nil)
	m.emitter.On("EmitToUser", "rep-1", "lead:deal_rejected", mock.Anything).Return()
	m.notifier.On("Create", ctx, mock.Anything).Return(notifications.Notification{}, nil)

	rejected, err := svc.Reject(ctx, "req-1", "budget too low", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	m.leads.AssertExpectations(t)
	m.users.AssertExpectations(t)
	m.emitter.AssertExpectations(t)
}

func TestRejectDefaultsReason(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	pending := DealCloseRequest{ID: "req-1", LeadID: "lead-1", Representative: "rep-1", Status: StatusPending, PreviousStageID: "stage-2"}
	m.repo.On("GetByID", ctx, "req-1").Return(pending, nil)
	m.repo.On("Reject", ctx, "req-1", DefaultRejectionReason, "admin-1", mock.Anything).
		Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Representative: "rep-1", Status: StatusRejected}, nil)
	m.leads.On("ReopenDeal", ctx, "lead-1", "stage-2", DefaultRejectionReason, mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1"}, nil)
	m.users.On("RemoveConvertedLeadFromAll", ctx, "lead-1", mock.Anything).Return(nil)
	m.emitter.On("EmitToUser", "rep-1", "lead:deal_rejected", mock.Anything).Return()
	m.notifier.On("Create", ctx, mock.Anything).Return(notifications.Notification{}, nil)

	_, err := svc.Reject(ctx, "req-1", "", "admin-1")
	assert.NoError(t, err)
	m.repo.AssertExpectations(t)
}

func TestMarkLostAutoRejectsPending(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.leads.On("GetByID", ctx, "lead-1").Return(leads.Lead{
		ID:         "lead-1",
		AssignedTo: "rep-1",
		DealStatus: leads.DealStatusClosingRequested,
	}, nil)
	m.repo.On("FindPendingByLead", ctx, "lead-1").
		Return(DealCloseRequest{ID: "req-1", LeadID: "lead-1", Status: StatusPending}, nil)
	m.repo.On("Reject", ctx, "req-1", LostRejectionReason, "admin-1", mock.Anything).
		Return(DealCloseRequest{ID: "req-1", Status: StatusRejected}, nil)
	m.leads.On("MarkLost", ctx, "lead-1", "went with competitor", mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1", DealStatus: leads.DealStatusLost}, nil)
	m.users.On("RemoveConvertedLead", ctx, "rep-1", "lead-1", mock.Anything).Return(nil)
	m.notifier.On("Create", ctx, mock.Anything).Return(notifications.Notification{}, nil)

	lost, err := svc.MarkLost(ctx, "lead-1", "went with competitor", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, leads.DealStatusLost, lost.DealStatus)
	m.repo.AssertExpectations(t)
}

func TestWithdrawWithinGracePeriod(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("FindPendingByLead", ctx, "lead-1").Return(DealCloseRequest{
		ID:             "req-1",
		LeadID:         "lead-1",
		Representative: "rep-1",
		Status:         StatusPending,
		RequestedAt:    time.Now().UTC().Add(-30 * time.Minute),
	}, nil)
	m.repo.On("Delete", ctx, "req-1").Return(nil)
	m.leads.On("ResetToOpen", ctx, "lead-1", mock.Anything, mock.Anything).
		Return(leads.Lead{ID: "lead-1", DealStatus: leads.DealStatusOpen}, nil)
	m.users.On("RemoveConvertedLeadFromAll", ctx, "lead-1", mock.Anything).Return(nil)

	err := svc.Withdraw(ctx, "lead-1", "rep-1")
	assert.NoError(t, err)
	m.repo.AssertExpectations(t)
	m.leads.AssertExpectations(t)
}

func TestWithdrawAfterGracePeriod(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("FindPendingByLead", ctx, "lead-1").Return(DealCloseRequest{
		ID:             "req-1",
		LeadID:         "lead-1",
		Representative: "rep-1",
		Status:         StatusPending,
		RequestedAt:    time.Now().UTC().Add(-2 * time.Hour),
	}, nil)

	err := svc.Withdraw(ctx, "lead-1", "rep-1")
	assert.ErrorIs(t, err, ErrGracePeriodExpired)
	m.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestWithdrawWrongCaller(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("FindPendingByLead", ctx, "lead-1").Return(DealCloseRequest{
		ID:             "req-1",
		Representative: "rep-1",
		Status:         StatusPending,
		RequestedAt:    time.Now().UTC(),
	}, nil)

	err := svc.Withdraw(ctx, "lead-1", "rep-2")
	assert.ErrorIs(t, err, ErrNotRequester)
	m.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestWithdrawNoPendingRequest(t *testing.T) {
	svc, m := newTestService(time.Hour)
	ctx := context.Background()

	m.repo.On("FindPendingByLead", ctx, "lead-1").Return(DealCloseRequest{}, mongo.ErrNoDocuments)

	err := svc.Withdraw(ctx, "lead-1", "rep-1")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
}
