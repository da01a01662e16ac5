package tasks

import "time"

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

var validStatuses = map[string]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusDone:       {},
}

func IsValidStatus(value string) bool {
	_, ok := validStatuses[value]
	return ok
}

type Task struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	LeadID      string    `bson:"leadId,omitempty" json:"leadId,omitempty"`
	AssignedTo  string    `bson:"assignedTo" json:"assignedTo"`
	CreatedBy   string    `bson:"createdBy" json:"createdBy"`
	DueDate     time.Time `bson:"dueDate" json:"dueDate"`
	Status      string    `bson:"status" json:"status"`
	// OverdueNotified keeps the daily overdue scan from re-alerting the
	// same task.
	OverdueNotified bool       `bson:"overdueNotified" json:"overdueNotified"`
	CompletedAt     *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt" json:"updatedAt"`
}

type CreateRequest struct {
	Title       string `json:"title" validate:"required,min=2,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	LeadID      string `json:"leadId" validate:"omitempty,objectid"`
	AssignedTo  string `json:"assignedTo" validate:"required,objectid"`
	DueDate     string `json:"dueDate" validate:"required"`
}

type UpdateRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=2,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	DueDate     *string `json:"dueDate"`
	Status      *string `json:"status" validate:"omitempty,oneof=pending in_progress done"`
}

type ListFilter struct {
	AssignedTo string
	Status     string
}
