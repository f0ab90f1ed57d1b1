package domain

import "time"

// LocationSample is an append-only GPS fix for an agent. The core never
// mutates or deletes samples.
type LocationSample struct {
	ID           string   `json:"id" gorm:"primaryKey;type:uuid"`
	AgentID      string   `json:"agent_id" gorm:"type:uuid;index:idx_samples_agent_time"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	AccuracyM    *float64 `json:"accuracy_m"` // GPS accuracy in meters, if reported
	AssignmentID *string  `json:"assignment_id" gorm:"type:uuid"`

	RecordedAt time.Time `json:"recorded_at" gorm:"index:idx_samples_agent_time"`
}

func (LocationSample) TableName() string {
	return "location_samples"
}
