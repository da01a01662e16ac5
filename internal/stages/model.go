package stages

import "time"

const (
	TerminalWon  = "won"
	TerminalLost = "lost"
)

// IsValidTerminal accepts the two terminal flags or the empty string for
// ordinary pipeline columns.
func IsValidTerminal(value string) bool {
	return value == "" || value == TerminalWon || value == TerminalLost
}

// Stage is a named, ordered column in the sales pipeline. Positions are dense
// and 0-based; reorder rewrites them wholesale.
type Stage struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	Title    string `bson:"title" json:"title"`
	Position int    `bson:"position" json:"position"`
	IsActive bool   `bson:"isActive" json:"isActive"`
	// IsTerminal marks the "won"/"lost" stages explicitly rather than
	// inferring them from position or title.
	IsTerminal string    `bson:"isTerminal,omitempty" json:"isTerminal,omitempty"`
	CreatedBy  string    `bson:"createdBy" json:"createdBy"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

type CreateRequest struct {
	Title      string `json:"title" validate:"required,min=2,max=80"`
	IsActive   *bool  `json:"isActive"`
	IsTerminal string `json:"isTerminal" validate:"omitempty,oneof=won lost"`
}

type UpdateRequest struct {
	Title      *string `json:"title" validate:"omitempty,min=2,max=80"`
	IsActive   *bool   `json:"isActive"`
	IsTerminal *string `json:"isTerminal" validate:"omitempty,oneof='' won lost"`
}

type ReorderRequest struct {
	SourceIndex      *int `json:"sourceIndex" validate:"required"`
	DestinationIndex *int `json:"destinationIndex" validate:"required"`
}
