package domain

import "time"

// Client priority, ordinal. Higher is more urgent.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

type Client struct {
	ID       string  `json:"id" gorm:"primaryKey;type:uuid"`
	Name     string  `json:"name"`
	Phone    string  `json:"phone"`
	Email    string  `json:"email"`
	Address  string  `json:"address"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Priority int     `json:"priority" gorm:"index;default:2"`
	Notes    string  `json:"notes"`
	Active   bool    `json:"active" gorm:"index;default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Client) TableName() string {
	return "clients"
}

func (c *Client) Position() Point {
	return Point{Lat: c.Lat, Lng: c.Lng}
}

// PriorityLabel returns the human-readable priority used in event payloads.
func (c *Client) PriorityLabel() string {
	switch c.Priority {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	}
	return "Unknown"
}
