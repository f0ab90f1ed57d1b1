package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
)

// Precondition failures are re-exported from domain so transport handlers
// can match them regardless of which layer detected the violation.
var (
	ErrAgentNotFound      = domain.ErrAgentNotFound
	ErrClientNotFound     = domain.ErrClientNotFound
	ErrAssignmentNotFound = domain.ErrAssignmentNotFound
	ErrAgentEngaged       = domain.ErrAgentEngaged
	ErrClientEngaged      = domain.ErrClientEngaged
	ErrClientInactive     = domain.ErrClientInactive
	ErrNoLocation         = domain.ErrNoLocation
	ErrNoCandidates       = domain.ErrNoCandidates
	ErrBadTransition      = domain.ErrBadTransition
	ErrInvalidStatus      = domain.ErrInvalidStatus
	ErrPermission         = domain.ErrPermission
	ErrInvalidMode        = domain.ErrInvalidMode
)

const balancedLookback = 24 * time.Hour

// DispatchService owns assignment creation, the status state machine, and
// location recording. Every mutation persists its notification rows in the
// same transaction and broadcasts to the group bus after commit.
type DispatchService struct {
	agents      ports.AgentRepository
	clients     ports.ClientRepository
	assignments ports.AssignmentRepository
	notifs      ports.NotificationRepository
	bus         ports.GroupBus
}

func NewDispatchService(
	agents ports.AgentRepository,
	clients ports.ClientRepository,
	assignments ports.AssignmentRepository,
	notifs ports.NotificationRepository,
	bus ports.GroupBus,
) *DispatchService {
	return &DispatchService{
		agents:      agents,
		clients:     clients,
		assignments: assignments,
		notifs:      notifs,
		bus:         bus,
	}
}

// CreateAssignment assigns the given client to the given agent. Only
// managers may call it. The repository re-validates every precondition
// under row locks, so concurrent creations for the same agent or client
// yield exactly one success.
func (s *DispatchService) CreateAssignment(ctx context.Context, actor *domain.Agent, agentID, clientID, notes string) (*domain.Assignment, error) {
	if actor.Role != domain.RoleManager {
		return nil, ErrPermission
	}

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil || agent == nil || agent.Role != domain.RoleAgent {
		return nil, ErrAgentNotFound
	}
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil || client == nil {
		return nil, ErrClientNotFound
	}
	if !agent.HasLocation() {
		return nil, ErrNoLocation
	}

	a := &domain.Assignment{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		ClientID:    client.ID,
		CreatedByID: actor.ID,
		Status:      domain.StatusAssigned,
		AssignedAt:  time.Now().UTC(),
		Notes:       notes,
		DistanceKm:  domain.HaversineKm(agent.Position(), client.Position()),
	}

	notif := &domain.Notification{
		ID:           uuid.New().String(),
		RecipientID:  agent.ID,
		Kind:         domain.NotifyAssignment,
		Title:        "New Assignment",
		Message:      "New assignment: " + client.Name,
		AssignmentID: &a.ID,
		CreatedAt:    a.AssignedAt,
	}

	if err := s.assignments.CreateAssignment(ctx, a, []*domain.Notification{notif}); err != nil {
		return nil, err
	}

	a.Agent = agent
	a.Client = client

	event := domain.NewAssignmentEvent(a)
	s.bus.Publish(domain.AgentGroup(agent.ID), event)
	s.bus.Publish(domain.GroupManagers, event)

	logger.Info("assignment created",
		"assignment_id", a.ID, "agent_id", agent.ID, "client_id", client.ID,
		"distance_km", a.DistanceKm)
	return a, nil
}

// AutoAssign selects the best unassigned client for the agent using the
// given ranking mode, then creates the assignment through the same locked
// path as CreateAssignment.
func (s *DispatchService) AutoAssign(ctx context.Context, actor *domain.Agent, agentID string, mode RankMode) (*domain.Assignment, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil || agent == nil || agent.Role != domain.RoleAgent {
		return nil, ErrAgentNotFound
	}
	if !agent.HasLocation() {
		return nil, ErrNoLocation
	}
	if active, err := s.assignments.ActiveByAgent(ctx, agent.ID); err != nil {
		return nil, fmt.Errorf("lookup active assignment: %w", err)
	} else if active != nil {
		return nil, ErrAgentEngaged
	}

	pool, err := s.clients.ListUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unassigned clients: %w", err)
	}

	var ranker Ranker
	switch mode {
	case RankClosest:
		ranker = ClosestRanker{}
	case RankPriority:
		ranker = PriorityRanker{}
	case RankBalanced:
		load, err := s.assignments.CountRecentByAgent(ctx, agent.ID, time.Now().Add(-balancedLookback))
		if err != nil {
			return nil, fmt.Errorf("count recent assignments: %w", err)
		}
		ranker = BalancedRanker{RecentLoad: load}
	}

	pick := SelectClient(ranker, agent.Position(), pool)
	if pick == nil {
		return nil, ErrNoCandidates
	}

	return s.CreateAssignment(ctx, actor, agent.ID, pick.Client.ID, "")
}

// UpdateStatus drives the state machine. Allowed actors: the assignment's
// agent or any manager; the check runs before any mutation. Timestamps,
// durations, and note appends all happen inside the repository transaction.
func (s *DispatchService) UpdateStatus(ctx context.Context, actor *domain.Agent, assignmentID string, status domain.AssignmentStatus, notes string) (*domain.Assignment, error) {
	if !status.Valid() || status == domain.StatusAssigned {
		return nil, ErrInvalidStatus
	}

	current, err := s.assignments.GetAssignment(ctx, assignmentID)
	if err != nil || current == nil {
		return nil, ErrAssignmentNotFound
	}
	if actor.Role != domain.RoleManager && actor.ID != current.AgentID {
		return nil, ErrPermission
	}

	updated, err := s.assignments.Transition(ctx, assignmentID, func(a *domain.Assignment) ([]*domain.Notification, error) {
		if !domain.CanTransition(a.Status, status) {
			return nil, ErrBadTransition
		}

		now := time.Now().UTC()
		switch status {
		case domain.StatusInProgress:
			a.StartedAt = &now
		case domain.StatusCompleted:
			a.CompletedAt = &now
			if a.StartedAt != nil {
				a.ActualDuration = now.Sub(*a.StartedAt)
			}
			appendNotes(a, notes)
		case domain.StatusCancelled:
			reason := notes
			if reason == "" {
				reason = "Cancelled by " + string(actor.Role)
			}
			appendNotes(a, "Cancelled: "+reason)
		}
		a.Status = status

		return s.transitionNotifications(a, actor), nil
	})
	if err != nil {
		return nil, err
	}

	event := domain.AssignmentUpdateEvent(updated)
	s.bus.Publish(domain.AgentGroup(updated.AgentID), event)
	s.bus.Publish(domain.GroupManagers, event)

	logger.Info("assignment status updated",
		"assignment_id", updated.ID, "status", status, "actor_id", actor.ID)
	return updated, nil
}

// Cancel is UpdateStatus sugar carrying the cancellation reason.
func (s *DispatchService) Cancel(ctx context.Context, actor *domain.Agent, assignmentID, reason string) (*domain.Assignment, error) {
	return s.UpdateStatus(ctx, actor, assignmentID, domain.StatusCancelled, reason)
}

// RecordLocation validates and persists an agent position (sample appended
// in the same transaction), then broadcasts to the managers group only.
func (s *DispatchService) RecordLocation(ctx context.Context, agent *domain.Agent, lat, lng float64, accuracy *float64) error {
	if err := domain.ValidateCoordinate(lat, lng); err != nil {
		return err
	}

	sample := &domain.LocationSample{
		ID:         uuid.New().String(),
		AgentID:    agent.ID,
		Lat:        lat,
		Lng:        lng,
		AccuracyM:  accuracy,
		RecordedAt: time.Now().UTC(),
	}
	if active, err := s.assignments.ActiveByAgent(ctx, agent.ID); err == nil && active != nil {
		sample.AssignmentID = &active.ID
	}

	if err := s.agents.UpdateLocation(ctx, agent.ID, sample); err != nil {
		return fmt.Errorf("update location: %w", err)
	}

	agent.CurrentLat = &lat
	agent.CurrentLng = &lng
	s.bus.Publish(domain.GroupManagers, domain.LocationUpdateEvent(agent, domain.Point{Lat: lat, Lng: lng}, accuracy))
	return nil
}

func (s *DispatchService) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	return s.assignments.GetAssignment(ctx, id)
}

func (s *DispatchService) ListAssignments(ctx context.Context, f ports.AssignmentFilter) ([]*domain.Assignment, int64, error) {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 100
	}
	return s.assignments.ListAssignments(ctx, f)
}

// AgentOverview is an agent plus its derived current assignment.
type AgentOverview struct {
	*domain.Agent
	CurrentAssignment *domain.Assignment `json:"current_assignment"`
}

func (s *DispatchService) ListAgents(ctx context.Context) ([]*AgentOverview, error) {
	agents, err := s.agents.ListAgents(ctx, domain.RoleAgent)
	if err != nil {
		return nil, err
	}
	overviews := make([]*AgentOverview, 0, len(agents))
	for _, agent := range agents {
		active, err := s.assignments.ActiveByAgent(ctx, agent.ID)
		if err != nil {
			logger.Warn("active assignment lookup failed", "agent_id", agent.ID, "error", err)
		}
		overviews = append(overviews, &AgentOverview{Agent: agent, CurrentAssignment: active})
	}
	return overviews, nil
}

// ClientOverview is a client plus its derived current assignment.
type ClientOverview struct {
	*domain.Client
	CurrentAssignment *domain.Assignment `json:"current_assignment"`
}

func (s *DispatchService) ListClients(ctx context.Context, activeOnly bool) ([]*ClientOverview, error) {
	clients, err := s.clients.ListClients(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	overviews := make([]*ClientOverview, 0, len(clients))
	for _, client := range clients {
		active, err := s.assignments.ActiveByClient(ctx, client.ID)
		if err != nil {
			logger.Warn("active assignment lookup failed", "client_id", client.ID, "error", err)
		}
		overviews = append(overviews, &ClientOverview{Client: client, CurrentAssignment: active})
	}
	return overviews, nil
}

func (s *DispatchService) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.notifs.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

func (s *DispatchService) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	return s.notifs.MarkRead(ctx, id, recipientID)
}

func appendNotes(a *domain.Assignment, notes string) {
	if notes == "" {
		return
	}
	if a.Notes != "" {
		a.Notes += "\n\n" + notes
		return
	}
	a.Notes = notes
}

func (s *DispatchService) transitionNotifications(a *domain.Assignment, actor *domain.Agent) []*domain.Notification {
	kind := domain.NotifyUpdate
	if a.Status == domain.StatusCompleted {
		kind = domain.NotifyCompletion
	}

	// The party that didn't act gets the durable record: managers acting
	// notify the agent, agents acting notify whoever created the work.
	recipient := a.AgentID
	if actor.ID == a.AgentID && a.CreatedByID != "" {
		recipient = a.CreatedByID
	}

	return []*domain.Notification{{
		ID:           uuid.New().String(),
		RecipientID:  recipient,
		Kind:         kind,
		Title:        "Assignment " + a.Status.Display(),
		Message:      "Assignment " + a.ID + " is now " + a.Status.Display(),
		AssignmentID: &a.ID,
		CreatedAt:    time.Now().UTC(),
	}}
}
