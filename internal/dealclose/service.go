package dealclose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"

	"crmdesk-backend/internal/db"
	"crmdesk-backend/internal/leads"
	"crmdesk-backend/internal/metrics"
	"crmdesk-backend/internal/notifications"
	"crmdesk-backend/internal/realtime"
	"crmdesk-backend/internal/stages"
	"crmdesk-backend/internal/users"
)

var (
	ErrLeadNotFound       = errors.New("lead not found")
	ErrRequestNotFound    = errors.New("deal close request not found")
	ErrAlreadyClosed      = errors.New("deal is already closed")
	ErrAlreadyRequested   = errors.New("deal closing already requested")
	ErrLeadLost           = errors.New("deal is marked as lost")
	ErrNotAssigned        = errors.New("lead is not assigned to this user")
	ErrAlreadyProcessed   = errors.New("request already processed")
	ErrInvalidIncentive   = errors.New("incentive amount must be a positive number")
	ErrNoPendingRequest   = errors.New("no pending deal close request for this lead")
	ErrNotRequester       = errors.New("only the requesting representative can withdraw")
	ErrGracePeriodExpired = errors.New("withdrawal window has expired")
	ErrInvalidFilter      = errors.New("invalid status filter")
)

// LeadStore is the slice of the leads repository the workflow drives. Every
// state-changing method carries the lead's expected current status in its
// update filter, so a stale transition surfaces as mongo.ErrNoDocuments.
type LeadStore interface {
	GetByID(ctx context.Context, id string) (leads.Lead, error)
	MarkClosingRequested(ctx context.Context, id string, history leads.HistoryEntry, now time.Time) (leads.Lead, error)
	CloseDeal(ctx context.Context, id, stageID, closedBy string, history leads.HistoryEntry, now time.Time) (leads.Lead, error)
	ReopenDeal(ctx context.Context, id, restoreStageID, rejectionReason string, history leads.HistoryEntry, now time.Time) (leads.Lead, error)
	MarkLost(ctx context.Context, id, lostReason string, history leads.HistoryEntry, now time.Time) (leads.Lead, error)
	ResetToOpen(ctx context.Context, id string, history leads.HistoryEntry, now time.Time) (leads.Lead, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (users.User, error)
	ListByRole(ctx context.Context, role string) ([]users.User, error)
	NormalizeConvertedLeads(ctx context.Context, id string, ids []string, now time.Time) error
	AddConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error
	RemoveConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error
	RemoveConvertedLeadFromAll(ctx context.Context, leadID string, now time.Time) error
	IncPerformancePoint(ctx context.Context, userID string, delta int, now time.Time) error
}

// WonStageFinder resolves the pipeline stage a closed deal lands in.
type WonStageFinder interface {
	WonStage(ctx context.Context) (stages.Stage, error)
}

type Notifier interface {
	Create(ctx context.Context, params notifications.CreateParams) (notifications.Notification, error)
}

type Emitter interface {
	EmitToUser(userID, event string, payload interface{})
}

type Service struct {
	repo        Repository
	leads       LeadStore
	users       UserStore
	stages      WonStageFinder
	notifier    Notifier
	emitter     Emitter
	txn         db.TxnRunner
	gracePeriod time.Duration
	location    *time.Location
	log         *slog.Logger
}

func NewService(
	repo Repository,
	leadStore LeadStore,
	userStore UserStore,
	stageFinder WonStageFinder,
	notifier Notifier,
	emitter Emitter,
	txn db.TxnRunner,
	gracePeriod time.Duration,
	location *time.Location,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		leads:       leadStore,
		users:       userStore,
		stages:      stageFinder,
		notifier:    notifier,
		emitter:     emitter,
		txn:         txn,
		gracePeriod: gracePeriod,
		location:    location,
		log:         log,
	}
}

// RequestClose moves an open lead into closing_requested and records a
// pending approval request on behalf of the assigned representative.
func (s *Service) RequestClose(ctx context.Context, leadID, callerID string) (DealCloseRequest, error) {
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return DealCloseRequest{}, ErrLeadNotFound
		}
		return DealCloseRequest{}, err
	}

	switch lead.DealStatus {
	case leads.DealStatusClosed:
		return DealCloseRequest{}, ErrAlreadyClosed
	case leads.DealStatusClosingRequested:
		return DealCloseRequest{}, ErrAlreadyRequested
	case leads.DealStatusLost:
		return DealCloseRequest{}, ErrLeadLost
	}
	if lead.AssignedTo != callerID {
		return DealCloseRequest{}, ErrNotAssigned
	}

	now := time.Now().In(s.location)
	var created DealCloseRequest
	err = s.txn.WithTransaction(ctx, func(ctx context.Context) error {
		created, err = s.repo.Create(ctx, DealCloseRequest{
			LeadID:          leadID,
			Representative:  callerID,
			RequestedAt:     now,
			Status:          StatusPending,
			PreviousStageID: lead.StageID,
		})
		if err != nil {
			return err
		}
		history := leads.HistoryEntry{
			Action:      "deal_close_requested",
			ChangedBy:   callerID,
			Timestamp:   now,
			Description: "Deal close requested, awaiting admin approval",
		}
		if _, err := s.leads.MarkClosingRequested(ctx, leadID, history, now); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyRequested
			}
			return err
		}
		return nil
	})
	if err != nil {
		return DealCloseRequest{}, err
	}

	s.notifyAdmins(ctx, notifications.CreateParams{
		Type:        notifications.TypeLead,
		Title:       "Deal close requested",
		Message:     fmt.Sprintf("A deal close request is awaiting approval for lead %q", lead.Title),
		EntityType:  "lead",
		EntityID:    leadID,
		TriggeredBy: callerID,
		Metadata:    map[string]interface{}{"requestId": created.ID},
	})
	return created, nil
}

// Approve closes the deal: the request flips to approved, the lead moves to
// the won stage, and the representative earns a performance point plus the
// lead in their converted list. All writes run in one transaction.
func (s *Service) Approve(ctx context.Context, requestID, incentiveAmount, adminID string) (DealCloseRequest, error) {
	incentive, err := decimal.NewFromString(incentiveAmount)
	if err != nil || incentive.Sign() <= 0 {
		return DealCloseRequest{}, ErrInvalidIncentive
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return DealCloseRequest{}, ErrRequestNotFound
		}
		return DealCloseRequest{}, err
	}
	if req.Status != StatusPending {
		return DealCloseRequest{}, ErrAlreadyProcessed
	}

	wonStage, err := s.stages.WonStage(ctx)
	if err != nil {
		return DealCloseRequest{}, err
	}

	now := time.Now().In(s.location)
	var approved DealCloseRequest
	err = s.txn.WithTransaction(ctx, func(ctx context.Context) error {
		approved, err = s.repo.Approve(ctx, requestID, incentive.String(), adminID, now)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyProcessed
			}
			return err
		}

		history := leads.HistoryEntry{
			Action:      "deal_closed",
			ChangedBy:   adminID,
			Timestamp:   now,
			Description: fmt.Sprintf("Deal approved with incentive %s %s", incentive.String(), IncentiveCurrency),
		}
		if _, err := s.leads.CloseDeal(ctx, req.LeadID, wonStage.ID, adminID, history, now); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyProcessed
			}
			return err
		}

		rep, err := s.users.GetByID(ctx, req.Representative)
		if err != nil {
			return err
		}
		if rep.HasLegacyConvertedLeads() {
			if err := s.users.NormalizeConvertedLeads(ctx, rep.ID, rep.ConvertedLeadIDs(), now); err != nil {
				return err
			}
		}
		if err := s.users.AddConvertedLead(ctx, req.Representative, req.LeadID, now); err != nil {
			return err
		}
		return s.users.IncPerformancePoint(ctx, req.Representative, 1, now)
	})
	if err != nil {
		return DealCloseRequest{}, err
	}

	metrics.DealsClosed.Inc()
	s.notify(ctx, notifications.CreateParams{
		Type:        notifications.TypeLead,
		Title:       "Deal approved",
		Message:     fmt.Sprintf("Your deal close request was approved with an incentive of %s %s", incentive.String(), IncentiveCurrency),
		EntityType:  "lead",
		EntityID:    req.LeadID,
		TriggeredBy: adminID,
		Recipients:  []string{req.Representative},
		Metadata:    map[string]interface{}{"requestId": requestID},
	})
	return approved, nil
}

// Reject returns the lead to open and restores the stage it occupied when the
// request was made. The representative's converted list is scrubbed in case a
// prior approval of the same lead left it behind.
func (s *Service) Reject(ctx context.Context, requestID, reason, adminID string) (DealCloseRequest, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return DealCloseRequest{}, ErrRequestNotFound
		}
		return DealCloseRequest{}, err
	}
	if req.Status != StatusPending {
		return DealCloseRequest{}, ErrAlreadyProcessed
	}
	if reason == "" {
		reason = DefaultRejectionReason
	}
	if req.PreviousStageID == "" {
		s.log.Warn("deal close request has no previous stage, lead keeps its current stage",
			"request_id", requestID, "lead_id", req.LeadID)
	}

	now := time.Now().In(s.location)
	var rejected DealCloseRequest
	err = s.txn.WithTransaction(ctx, func(ctx context.Context) error {
		rejected, err = s.repo.Reject(ctx, requestID, reason, adminID, now)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyProcessed
			}
			return err
		}

		history := leads.HistoryEntry{
			Action:      "deal_rejected",
			ChangedBy:   adminID,
			Timestamp:   now,
			Description: "Deal close request rejected: " + reason,
		}
		if _, err := s.leads.ReopenDeal(ctx, req.LeadID, req.PreviousStageID, reason, history, now); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyProcessed
			}
			return err
		}
		return s.users.RemoveConvertedLeadFromAll(ctx, req.LeadID, now)
	})
	if err != nil {
		return DealCloseRequest{}, err
	}

	metrics.DealsRejected.Inc()
	s.emitter.EmitToUser(req.Representative, realtime.EventDealRejected, map[string]interface{}{
		"leadId":          req.LeadID,
		"requestId":       requestID,
		"rejectionReason": reason,
	})
	s.notify(ctx, notifications.CreateParams{
		Type:        notifications.TypeLead,
		Title:       "Deal close request rejected",
		Message:     "Your deal close request was rejected: " + reason,
		EntityType:  "lead",
		EntityID:    req.LeadID,
		TriggeredBy: adminID,
		Recipients:  []string{req.Representative},
		Metadata:    map[string]interface{}{"requestId": requestID},
	})
	return rejected, nil
}

// MarkLost takes a lead out of the pipeline. A pending close request on the
// lead is auto-rejected in the same transaction.
func (s *Service) MarkLost(ctx context.Context, leadID, lostReason, callerID string) (leads.Lead, error) {
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return leads.Lead{}, ErrLeadNotFound
		}
		return leads.Lead{}, err
	}
	switch lead.DealStatus {
	case leads.DealStatusClosed:
		return leads.Lead{}, ErrAlreadyClosed
	case leads.DealStatusLost:
		return leads.Lead{}, ErrLeadLost
	}

	now := time.Now().In(s.location)
	var lost leads.Lead
	err = s.txn.WithTransaction(ctx, func(ctx context.Context) error {
		pending, err := s.repo.FindPendingByLead(ctx, leadID)
		if err == nil {
			if _, err := s.repo.Reject(ctx, pending.ID, LostRejectionReason, callerID, now); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
				return err
			}
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}

		history := leads.HistoryEntry{
			Action:      "deal_lost",
			ChangedBy:   callerID,
			Timestamp:   now,
			Description: "Deal marked as lost: " + lostReason,
		}
		lost, err = s.leads.MarkLost(ctx, leadID, lostReason, history, now)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrAlreadyClosed
			}
			return err
		}
		if lead.AssignedTo != "" {
			return s.users.RemoveConvertedLead(ctx, lead.AssignedTo, leadID, now)
		}
		return nil
	})
	if err != nil {
		return leads.Lead{}, err
	}

	if lead.AssignedTo != "" && lead.AssignedTo != callerID {
		s.notify(ctx, notifications.CreateParams{
			Type:        notifications.TypeLead,
			Title:       "Deal marked as lost",
			Message:     fmt.Sprintf("Lead %q was marked as lost: %s", lead.Title, lostReason),
			EntityType:  "lead",
			EntityID:    leadID,
			TriggeredBy: callerID,
			Recipients:  []string{lead.AssignedTo},
		})
	}
	return lost, nil
}

// Withdraw deletes the caller's own pending request within the grace period
// and resets the lead to open as if the request never happened.
func (s *Service) Withdraw(ctx context.Context, leadID, callerID string) error {
	req, err := s.repo.FindPendingByLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNoPendingRequest
		}
		return err
	}
	if req.Representative != callerID {
		return ErrNotRequester
	}

	now := time.Now().In(s.location)
	if now.Sub(req.RequestedAt) > s.gracePeriod {
		return ErrGracePeriodExpired
	}

	return s.txn.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, req.ID); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrNoPendingRequest
			}
			return err
		}
		history := leads.HistoryEntry{
			Action:      "deal_close_withdrawn",
			ChangedBy:   callerID,
			Timestamp:   now,
			Description: "Deal close request withdrawn by representative",
		}
		if _, err := s.leads.ResetToOpen(ctx, leadID, history, now); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}
		return s.users.RemoveConvertedLeadFromAll(ctx, leadID, now)
	})
}

func (s *Service) GetByID(ctx context.Context, id string) (DealCloseRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DealCloseRequest{}, ErrRequestNotFound
	}
	return req, err
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]DealCloseRequest, int64, error) {
	if filter.Status != "" {
		switch filter.Status {
		case StatusPending, StatusApproved, StatusRejected:
		default:
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidFilter, filter.Status)
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

// PendingOlderThan lists requests that have sat unprocessed past the given
// age. The hourly reminder job feeds on it.
func (s *Service) PendingOlderThan(ctx context.Context, age time.Duration) ([]DealCloseRequest, error) {
	cutoff := time.Now().In(s.location).Add(-age)
	return s.repo.FindPendingOlderThan(ctx, cutoff)
}

// notifyAdmins fans a notification out to every admin and super admin.
func (s *Service) notifyAdmins(ctx context.Context, params notifications.CreateParams) {
	recipients := make([]string, 0)
	for _, role := range users.AdminRoles() {
		admins, err := s.users.ListByRole(ctx, role)
		if err != nil {
			s.log.Error("listing admins for notification", "role", role, "error", err)
			continue
		}
		for _, a := range admins {
			recipients = append(recipients, a.ID)
		}
	}
	if len(recipients) == 0 {
		return
	}
	params.Recipients = recipients
	s.notify(ctx, params)
}

func (s *Service) notify(ctx context.Context, params notifications.CreateParams) {
	if _, err := s.notifier.Create(ctx, params); err != nil {
		s.log.Error("creating notification", "title", params.Title, "error", err)
	}
}
