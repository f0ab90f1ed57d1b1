package ports

import (
	"context"
	"time"

	"fieldops.dispatch/internal/core/domain"
)

type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgentByToken(ctx context.Context, token string) (*domain.Agent, error)
	ListAgents(ctx context.Context, role domain.Role) ([]*domain.Agent, error)
	// UpdateLocation sets the agent's current position and appends a
	// LocationSample in the same transaction.
	UpdateLocation(ctx context.Context, agentID string, sample *domain.LocationSample) error
}

type ClientRepository interface {
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error)
	// ListUnassigned returns active clients with no assignment in a
	// non-terminal status.
	ListUnassigned(ctx context.Context) ([]*domain.Client, error)
}

type AssignmentRepository interface {
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]*domain.Assignment, int64, error)
	// ActiveByAgent returns the agent's assignment in a non-terminal
	// status, or nil. Derived, never cached.
	ActiveByAgent(ctx context.Context, agentID string) (*domain.Assignment, error)
	ActiveByClient(ctx context.Context, clientID string) (*domain.Assignment, error)
	CountRecentByAgent(ctx context.Context, agentID string, since time.Time) (int64, error)

	// CreateAssignment inserts the assignment and its notifications inside
	// one transaction that row-locks the agent and client and re-checks the
	// single-active-engagement rule under the lock.
	CreateAssignment(ctx context.Context, a *domain.Assignment, notifs []*domain.Notification) error
	// Transition applies mutate to the locked assignment row, writing the
	// result and notifications atomically. mutate returning an error rolls
	// everything back.
	Transition(ctx context.Context, id string, mutate func(a *domain.Assignment) ([]*domain.Notification, error)) (*domain.Assignment, error)
}

type NotificationRepository interface {
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

type StatsRepository interface {
	DashboardStats(ctx context.Context) (*DashboardStats, error)
}

// DashboardStats backs the manager overview endpoint.
type DashboardStats struct {
	TotalAgents       int64 `json:"total_agents"`
	ActiveAgents      int64 `json:"active_agents"`
	ActiveClients     int64 `json:"active_clients"`
	ActiveAssignments int64 `json:"active_assignments"`
	CompletedToday    int64 `json:"completed_today"`
}

type AssignmentFilter struct {
	AgentID string
	Status  domain.AssignmentStatus
	Offset  int
	Limit   int
}

// Subscriber receives events for the groups it has joined. Send must not
// block; implementations drop events for slow or closed subscribers.
type Subscriber interface {
	Send(event domain.Event) bool
}

// GroupBus is the presence/fan-out abstraction: an in-process hub for a
// single instance, optionally bridged over an external broker for
// multi-instance deployments. Join/Leave are idempotent; Publish to a
// group with no subscribers is a no-op.
type GroupBus interface {
	Join(group string, sub Subscriber)
	Leave(group string, sub Subscriber)
	Publish(group string, event domain.Event)
}

// Route is the result of a routing lookup between two points.
type Route struct {
	Coordinates  [][2]float64 `json:"coordinates"` // [lng, lat] pairs
	DistanceM    float64      `json:"distance"`
	DurationS    float64      `json:"duration"`
	Instructions []string     `json:"instructions"`
}

// Router resolves a drivable path between two coordinates. Implementations
// must time out quickly and fall back to a straight line rather than stall.
type Router interface {
	Route(ctx context.Context, start, end domain.Point) (*Route, error)
}
