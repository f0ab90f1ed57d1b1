package domain

import "time"

type Role string

const (
	RoleAgent   Role = "agent"
	RoleManager Role = "manager"
)

// Agent is a user of the dispatch system. Field agents carry a live GPS
// position; managers create and cancel assignments. Both connect over the
// same WebSocket transport, scoped by role.
type Agent struct {
	ID         string   `json:"id" gorm:"primaryKey;type:uuid"`
	Name       string   `json:"name"`
	Phone      string   `json:"phone"`
	Role       Role     `json:"role" gorm:"index"`
	Token      string   `json:"-" gorm:"uniqueIndex"` // connection auth token
	CurrentLat *float64 `json:"current_lat"`
	CurrentLng *float64 `json:"current_lng"`
	Active     bool     `json:"active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Agent) TableName() string {
	return "users"
}

// HasLocation reports whether the agent has ever reported a position.
func (a *Agent) HasLocation() bool {
	return a.CurrentLat != nil && a.CurrentLng != nil
}

func (a *Agent) Position() Point {
	if !a.HasLocation() {
		return Point{}
	}
	return Point{Lat: *a.CurrentLat, Lng: *a.CurrentLng}
}
