package domain

import "time"

type NotificationKind string

const (
	NotifyAssignment NotificationKind = "assignment"
	NotifyUpdate     NotificationKind = "update"
	NotifyCompletion NotificationKind = "completion"
	NotifySystem     NotificationKind = "system"
)

// Notification is the durable fallback for missed broadcasts: written in the
// same transaction as the dispatch mutation, reconciled by clients on
// reconnect. Only the read acknowledgement mutates it.
type Notification struct {
	ID           string           `json:"id" gorm:"primaryKey;type:uuid"`
	RecipientID  string           `json:"recipient_id" gorm:"type:uuid;index:idx_notifications_recipient_read"`
	Kind         NotificationKind `json:"kind"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Read         bool             `json:"read" gorm:"index:idx_notifications_recipient_read;default:false"`
	AssignmentID *string          `json:"assignment_id" gorm:"type:uuid"`

	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
