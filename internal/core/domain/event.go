package domain

import "time"

// Event is a broadcast message pushed to connected sessions. Payloads are
// flat: a type discriminator plus everything the receiving client needs to
// update its view without a follow-up fetch.
type Event map[string]any

const (
	EventConnectionEstablished = "connection_established"
	EventNewAssignment         = "new_assignment"
	EventAssignmentUpdate      = "assignment_update"
	EventLocationUpdate        = "location_update"
)

// Group names for fan-out. Durable identity, never transient connection
// identity, so every open session for a user sees every event.
const GroupManagers = "managers"

func AgentGroup(agentID string) string   { return "agent:" + agentID }
func ManagerGroup(agentID string) string { return "manager:" + agentID }

func NewAssignmentEvent(a *Assignment) Event {
	return Event{
		"type":           EventNewAssignment,
		"assignment_id":  a.ID,
		"agent_id":       a.AgentID,
		"agent_name":     a.Agent.Name,
		"client_id":      a.ClientID,
		"client_name":    a.Client.Name,
		"client_address": a.Client.Address,
		"client_phone":   a.Client.Phone,
		"priority":       a.Client.PriorityLabel(),
		"lat":            a.Client.Lat,
		"lng":            a.Client.Lng,
		"distance_km":    a.DistanceKm,
		"message":        "New assignment: " + a.Client.Name,
	}
}

func AssignmentUpdateEvent(a *Assignment) Event {
	return Event{
		"type":           EventAssignmentUpdate,
		"assignment_id":  a.ID,
		"agent_id":       a.AgentID,
		"agent_name":     a.Agent.Name,
		"client_name":    a.Client.Name,
		"status":         string(a.Status),
		"status_display": a.Status.Display(),
		"message":        "Assignment " + a.Status.Display() + ": " + a.Client.Name,
	}
}

func LocationUpdateEvent(agent *Agent, p Point, accuracy *float64) Event {
	return Event{
		"type":       EventLocationUpdate,
		"agent_id":   agent.ID,
		"agent_name": agent.Name,
		"lat":        p.Lat,
		"lng":        p.Lng,
		"accuracy":   accuracy,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}
