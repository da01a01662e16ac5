package leads

import "time"

const (
	DealStatusOpen             = "open"
	DealStatusClosingRequested = "closing_requested"
	DealStatusClosed           = "closed"
	DealStatusLost             = "lost"

	SourceWebsite  = "website"
	SourceReferral = "referral"
	SourceSocial   = "social"
	SourceManual   = "manual"
)

var validSources = map[string]struct{}{
	SourceWebsite:  {},
	SourceReferral: {},
	SourceSocial:   {},
	SourceManual:   {},
}

func IsValidSource(value string) bool {
	_, ok := validSources[value]
	return ok
}

// HistoryEntry is one line of the lead's append-only audit log.
type HistoryEntry struct {
	Action                  string    `bson:"action" json:"action"`
	Field                   string    `bson:"field,omitempty" json:"field,omitempty"`
	ChangedBy               string    `bson:"changedBy" json:"changedBy"`
	Timestamp               time.Time `bson:"timestamp" json:"timestamp"`
	Description             string    `bson:"description" json:"description"`
	OverdueNotificationSent bool      `bson:"overdueNotificationSent,omitempty" json:"overdueNotificationSent,omitempty"`
}

type Note struct {
	ID        string    `bson:"id" json:"id"`
	Text      string    `bson:"text" json:"text"`
	CreatedBy string    `bson:"createdBy" json:"createdBy"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

type Attachment struct {
	ID       string `bson:"id" json:"id"`
	FileName string `bson:"fileName" json:"fileName"`
	URL      string `bson:"url" json:"url"`
}

type Lead struct {
	ID         string `bson:"_id,omitempty" json:"id"`
	Title      string `bson:"title" json:"title"`
	Name       string `bson:"name" json:"name"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`
	Phone      string `bson:"phone" json:"phone"`
	Source     string `bson:"source" json:"source"`
	StageID    string `bson:"stageId" json:"stageId"`
	AssignedTo string `bson:"assignedTo" json:"assignedTo"`
	CreatedBy  string `bson:"createdBy" json:"createdBy"`
	// Budget is a canonical decimal string; services parse it with
	// shopspring/decimal rather than floats.
	Budget      string       `bson:"budget,omitempty" json:"budget,omitempty"`
	Currency    string       `bson:"currency,omitempty" json:"currency,omitempty"`
	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Notes       []Note       `bson:"notes,omitempty" json:"notes,omitempty"`

	DealStatus          string     `bson:"dealStatus" json:"dealStatus"`
	ClosingRequestedAt  *time.Time `bson:"closingRequestedAt,omitempty" json:"closingRequestedAt,omitempty"`
	ClosedAt            *time.Time `bson:"closedAt,omitempty" json:"closedAt,omitempty"`
	ClosedBy            string     `bson:"closedBy,omitempty" json:"closedBy,omitempty"`
	LostReason          string     `bson:"lostReason,omitempty" json:"lostReason,omitempty"`
	DealRejectionReason string     `bson:"dealRejectionReason,omitempty" json:"dealRejectionReason,omitempty"`

	History   []HistoryEntry `bson:"history,omitempty" json:"history,omitempty"`
	CreatedAt time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt"`
}

type CreateRequest struct {
	Title      string `json:"title" validate:"required,min=2,max=160"`
	Name       string `json:"name" validate:"required,min=2,max=120"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"required,phone"`
	Source     string `json:"source" validate:"omitempty,oneof=website referral social manual"`
	StageID    string `json:"stageId" validate:"required,objectid"`
	AssignedTo string `json:"assignedTo" validate:"required"`
	Budget     string `json:"budget" validate:"omitempty"`
	Currency   string `json:"currency" validate:"omitempty,currency"`
}

type UpdateRequest struct {
	Title      *string `json:"title" validate:"omitempty,min=2,max=160"`
	Name       *string `json:"name" validate:"omitempty,min=2,max=120"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Phone      *string `json:"phone" validate:"omitempty,phone"`
	Source     *string `json:"source" validate:"omitempty,oneof=website referral social manual"`
	AssignedTo *string `json:"assignedTo"`
	Budget     *string `json:"budget"`
	Currency   *string `json:"currency" validate:"omitempty,currency"`
}

type MoveStageRequest struct {
	StageID string `json:"stageId" validate:"required,objectid"`
}

type AddNoteRequest struct {
	Text string `json:"text" validate:"required,min=1,max=2000"`
}

type ListFilter struct {
	StageID    string
	DealStatus string
	AssignedTo string
}
