package notifications

import "time"

const (
	TypeTask   = "task"
	TypeLead   = "lead"
	TypeSystem = "system"
)

var validTypes = map[string]struct{}{
	TypeTask:   {},
	TypeLead:   {},
	TypeSystem: {},
}

func IsValidType(value string) bool {
	_, ok := validTypes[value]
	return ok
}

// ReadReceipt records that one recipient has read the notification. Read
// state is per-recipient, never a single boolean on the document.
type ReadReceipt struct {
	UserID string    `bson:"userId" json:"userId"`
	ReadAt time.Time `bson:"readAt" json:"readAt"`
}

type Notification struct {
	ID          string                 `bson:"_id,omitempty" json:"id"`
	Type        string                 `bson:"type" json:"type"`
	Title       string                 `bson:"title" json:"title"`
	Message     string                 `bson:"message" json:"message"`
	EntityType  string                 `bson:"entityType,omitempty" json:"entityType,omitempty"`
	EntityID    string                 `bson:"entityId,omitempty" json:"entityId,omitempty"`
	TriggeredBy string                 `bson:"triggeredBy,omitempty" json:"triggeredBy,omitempty"`
	Recipients  []string               `bson:"recipients" json:"recipients"`
	ReadBy      []ReadReceipt          `bson:"readBy,omitempty" json:"readBy,omitempty"`
	Metadata    map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt   time.Time              `bson:"createdAt" json:"createdAt"`
}

// HasRecipient reports whether the notification is addressed to the user.
func (n Notification) HasRecipient(userID string) bool {
	for _, recipient := range n.Recipients {
		if recipient == userID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether the given user has already read this notification.
func (n Notification) ReadByUser(userID string) bool {
	for _, receipt := range n.ReadBy {
		if receipt.UserID == userID {
			return true
		}
	}
	return false
}
