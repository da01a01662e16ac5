package dealclose

import "time"

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	// IncentiveCurrency is fixed regardless of the lead's own currency.
	IncentiveCurrency = "BDT"

	DefaultRejectionReason = "No reason provided"
	LostRejectionReason    = "Deal marked as lost"
)

// DealCloseRequest mediates a representative's request for admin approval to
// mark a lead's deal as won. PreviousStageID captures the lead's stage at
// request time so rejection can restore it.
type DealCloseRequest struct {
	ID              string     `bson:"_id,omitempty" json:"id"`
	LeadID          string     `bson:"leadId" json:"leadId"`
	Representative  string     `bson:"representative" json:"representative"`
	RequestedAt     time.Time  `bson:"requestedAt" json:"requestedAt"`
	Status          string     `bson:"status" json:"status"`
	ApprovedBy      string     `bson:"approvedBy,omitempty" json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
	RejectedBy      string     `bson:"rejectedBy,omitempty" json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `bson:"rejectedAt,omitempty" json:"rejectedAt,omitempty"`
	RejectionReason string     `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	// IncentiveAmount is a canonical decimal string in IncentiveCurrency.
	IncentiveAmount   string `bson:"incentiveAmount,omitempty" json:"incentiveAmount,omitempty"`
	IncentiveCurrency string `bson:"incentiveCurrency,omitempty" json:"incentiveCurrency,omitempty"`
	PreviousStageID   string `bson:"previousStageId,omitempty" json:"previousStageId,omitempty"`
}

type CreateRequest struct {
	LeadID string `json:"leadId" validate:"required,objectid"`
}

type MarkLostRequest struct {
	LeadID     string `json:"leadId" validate:"required,objectid"`
	LostReason string `json:"lostReason" validate:"required,min=2,max=500"`
}

type ApproveRequest struct {
	IncentiveAmount string `json:"incentiveAmount" validate:"required"`
}

type RejectRequest struct {
	RejectionReason string `json:"rejectionReason" validate:"omitempty,max=500"`
}

type ListFilter struct {
	Status         string
	Representative string
}
