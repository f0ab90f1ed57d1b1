package domain

import "time"

type AssignmentStatus string

const (
	StatusAssigned   AssignmentStatus = "assigned"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusCompleted  AssignmentStatus = "completed"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// Assignment links one agent to one client visit. At most one assignment in
// a non-terminal status may exist per agent and per client at any time; the
// repository enforces this inside the creation transaction.
type Assignment struct {
	ID          string           `json:"id" gorm:"primaryKey;type:uuid"`
	AgentID     string           `json:"agent_id" gorm:"type:uuid;index:idx_assignments_agent_status"`
	ClientID    string           `json:"client_id" gorm:"type:uuid;index"`
	CreatedByID string           `json:"created_by_id" gorm:"type:uuid"`
	Status      AssignmentStatus `json:"status" gorm:"index:idx_assignments_agent_status"`

	AssignedAt  time.Time  `json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Notes             string        `json:"notes"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ActualDuration    time.Duration `json:"actual_duration"`
	DistanceKm        float64       `json:"distance_km"` // straight-line at creation

	Agent  *Agent  `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
	Client *Client `json:"client,omitempty" gorm:"foreignKey:ClientID"`
}

func (Assignment) TableName() string {
	return "assignments"
}

// Active reports whether the assignment occupies its agent and client.
func (s AssignmentStatus) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

func (s AssignmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move:
// assigned -> in_progress -> completed, with cancellation allowed from any
// non-terminal state. Terminal states admit nothing.
func CanTransition(from, to AssignmentStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusInProgress:
		return from == StatusAssigned
	case StatusCompleted:
		return from == StatusInProgress
	case StatusCancelled:
		return true
	}
	return false
}

func (s AssignmentStatus) Display() string {
	switch s {
	case StatusAssigned:
		return "Assigned"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	}
	return string(s)
}
