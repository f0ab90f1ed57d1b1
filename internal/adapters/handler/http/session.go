package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
	"fieldops.dispatch/internal/core/services"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session owns one WebSocket connection: its identity, the groups it
// joined, and the outbound queue. Created on connect, torn down exactly
// once on disconnect; no state is shared across sessions beyond the store
// and the hub.
type Session struct {
	user     *domain.Agent
	conn     *websocket.Conn
	bus      ports.GroupBus
	dispatch *services.DispatchService

	groups []string
	send   chan domain.Event
	done   chan struct{}

	closeOnce sync.Once
}

func newSession(user *domain.Agent, conn *websocket.Conn, bus ports.GroupBus, dispatch *services.DispatchService) *Session {
	return &Session{
		user:     user,
		conn:     conn,
		bus:      bus,
		dispatch: dispatch,
		send:     make(chan domain.Event, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Send queues an event for delivery. Never blocks: a closed session or a
// full queue drops the event (broadcasts are at-most-once by design).
func (s *Session) Send(event domain.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- event:
		return true
	default:
		return false
	}
}

// run joins the session's groups, confirms the connection, and pumps
// messages until the peer goes away.
func (s *Session) run(groups []string) {
	s.groups = groups
	for _, g := range groups {
		s.bus.Join(g, s)
	}
	wsConnections.WithLabelValues(string(s.user.Role)).Inc()
	defer s.teardown()

	s.Send(domain.Event{
		"type":    domain.EventConnectionEstablished,
		"message": "Connected to Field Dispatch",
		"user_id": s.user.ID,
		"name":    s.user.Name,
		"role":    string(s.user.Role),
	})

	go s.writePump()
	s.readPump()
}

// teardown removes the session from every group it joined. Unconditional
// and idempotent: safe even if the connect sequence never completed, and a
// second close is a no-op.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		for _, g := range s.groups {
			s.bus.Leave(g, s)
		}
		close(s.done)
		s.conn.Close()
		wsConnections.WithLabelValues(string(s.user.Role)).Dec()
	})
}

func (s *Session) readPump() {
	defer s.teardown()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inbound is the wire envelope. One shape for both roles; the handler
// rejects fields the sender's role may not use.
type inbound struct {
	Type string `json:"type"`

	// location_update
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`

	// assignment_status_update / cancel_assignment
	AssignmentID string `json:"assignment_id"`
	Status       string `json:"status"`
	Notes        string `json:"notes"`
	Reason       string `json:"reason"`

	// create_assignment
	AgentID  string `json:"agent_id"`
	ClientID string `json:"client_id"`

	// ping
	Timestamp json.RawMessage `json:"timestamp"`
}

// handleMessage processes one inbound frame. A failure of any kind answers
// on the same connection and never closes it; other sessions and in-flight
// work are unaffected.
func (s *Session) handleMessage(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handler panic", "user_id", s.user.ID, "panic", r)
			s.sendError("internal error")
		}
	}()

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError("invalid JSON format")
		return
	}
	wsMessages.WithLabelValues(msg.Type, string(s.user.Role)).Inc()

	ctx := context.Background()

	switch {
	case msg.Type == "ping":
		s.Send(domain.Event{"type": "pong", "timestamp": msg.Timestamp})

	case msg.Type == "location_update" && s.user.Role == domain.RoleAgent:
		s.handleLocationUpdate(ctx, &msg)

	case msg.Type == "assignment_status_update" && s.user.Role == domain.RoleAgent:
		s.handleStatusUpdate(ctx, &msg)

	case msg.Type == "create_assignment" && s.user.Role == domain.RoleManager:
		s.handleCreateAssignment(ctx, &msg)

	case msg.Type == "cancel_assignment" && s.user.Role == domain.RoleManager:
		s.handleCancelAssignment(ctx, &msg)

	default:
		s.sendError("unknown message type: " + msg.Type)
	}
}

func (s *Session) handleLocationUpdate(ctx context.Context, msg *inbound) {
	if msg.Latitude == nil || msg.Longitude == nil {
		s.sendError("latitude and longitude are required")
		return
	}

	err := s.dispatch.RecordLocation(ctx, s.user, *msg.Latitude, *msg.Longitude, msg.Accuracy)
	if err != nil {
		s.sendError("invalid location data: " + err.Error())
		return
	}

	s.Send(domain.Event{
		"type":    "location_updated",
		"message": "Location updated successfully",
	})
}

func (s *Session) handleStatusUpdate(ctx context.Context, msg *inbound) {
	status := domain.AssignmentStatus(msg.Status)
	if status != domain.StatusInProgress && status != domain.StatusCompleted {
		s.sendError("invalid status")
		return
	}

	updated, err := s.dispatch.UpdateStatus(ctx, s.user, msg.AssignmentID, status, msg.Notes)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.Send(domain.Event{
		"type":          "assignment_status_updated",
		"assignment_id": updated.ID,
		"status":        string(updated.Status),
		"message":       "Assignment status updated to " + string(updated.Status),
	})
}

func (s *Session) handleCreateAssignment(ctx context.Context, msg *inbound) {
	a, err := s.dispatch.CreateAssignment(ctx, s.user, msg.AgentID, msg.ClientID, msg.Notes)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.Send(domain.Event{
		"type":          "assignment_created",
		"assignment_id": a.ID,
		"message":       "Assignment created successfully",
	})
}

func (s *Session) handleCancelAssignment(ctx context.Context, msg *inbound) {
	reason := msg.Reason
	if reason == "" {
		reason = "Cancelled by manager"
	}

	a, err := s.dispatch.Cancel(ctx, s.user, msg.AssignmentID, reason)
	if err != nil {
		s.sendError(err.Error())
		return
	}

	s.Send(domain.Event{
		"type":          "assignment_cancelled",
		"assignment_id": a.ID,
		"message":       "Assignment cancelled successfully",
	})
}

func (s *Session) sendError(message string) {
	s.Send(domain.Event{"type": "error", "message": message})
}

// serveWS authenticates, enforces the endpoint's role, upgrades, and hands
// the connection to a new session. Auth happens before the upgrade; a
// mismatched role never gets a socket.
func serveWS(role domain.Role, agents ports.AgentRepository, bus ports.GroupBus, dispatch *services.DispatchService, w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(r, agents)
	if err != nil || user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Role != role {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var groups []string
	switch role {
	case domain.RoleAgent:
		groups = []string{domain.AgentGroup(user.ID)}
	case domain.RoleManager:
		groups = []string{domain.ManagerGroup(user.ID), domain.GroupManagers}
	}

	session := newSession(user, conn, bus, dispatch)
	go session.run(groups)
}
