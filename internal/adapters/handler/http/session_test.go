package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/ports"
	"fieldops.dispatch/internal/core/services"
)

// memStore is a single in-memory backend implementing every repository
// port, enough to drive the full connect/dispatch/broadcast path without
// Postgres.
type memStore struct {
	mu          sync.Mutex
	agents      map[string]*domain.Agent
	clients     map[string]*domain.Client
	assignments map[string]*domain.Assignment
}

func newMemStore() *memStore {
	return &memStore{
		agents:      make(map[string]*domain.Agent),
		clients:     make(map[string]*domain.Client),
		assignments: make(map[string]*domain.Assignment),
	}
}

func (m *memStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[id], nil
}

func (m *memStore) GetAgentByToken(ctx context.Context, token string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Token == token {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListAgents(ctx context.Context, role domain.Role) ([]*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Agent
	for _, a := range m.agents {
		if role == "" || a.Role == role {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) UpdateLocation(ctx context.Context, agentID string, sample *domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return domain.ErrAgentNotFound
	}
	a.CurrentLat = &sample.Lat
	a.CurrentLng = &sample.Lng
	return nil
}

func (m *memStore) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[id], nil
}

func (m *memStore) ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Client
	for _, c := range m.clients {
		if !activeOnly || c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ListUnassigned(ctx context.Context) ([]*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Client
	for _, c := range m.clients {
		if c.Active && m.activeByLocked("client", c.ID) == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, nil
	}
	return m.loadedCopy(a), nil
}

func (m *memStore) ListAssignments(ctx context.Context, f ports.AssignmentFilter) ([]*domain.Assignment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Assignment
	for _, a := range m.assignments {
		out = append(out, m.loadedCopy(a))
	}
	return out, int64(len(out)), nil
}

func (m *memStore) ActiveByAgent(ctx context.Context, agentID string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeByLocked("agent", agentID), nil
}

func (m *memStore) ActiveByClient(ctx context.Context, clientID string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeByLocked("client", clientID), nil
}

func (m *memStore) activeByLocked(kind, id string) *domain.Assignment {
	for _, a := range m.assignments {
		if !a.Status.Active() {
			continue
		}
		if (kind == "agent" && a.AgentID == id) || (kind == "client" && a.ClientID == id) {
			return m.loadedCopy(a)
		}
	}
	return nil
}

func (m *memStore) CountRecentByAgent(ctx context.Context, agentID string, since time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) CreateAssignment(ctx context.Context, a *domain.Assignment, notifs []*domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeByLocked("agent", a.AgentID) != nil {
		return domain.ErrAgentEngaged
	}
	if m.activeByLocked("client", a.ClientID) != nil {
		return domain.ErrClientEngaged
	}
	stored := *a
	m.assignments[a.ID] = &stored
	return nil
}

func (m *memStore) Transition(ctx context.Context, id string, mutate func(a *domain.Assignment) ([]*domain.Notification, error)) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.assignments[id]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	working := *stored
	if _, err := mutate(&working); err != nil {
		return nil, err
	}
	m.assignments[id] = &working
	return m.loadedCopy(&working), nil
}

func (m *memStore) loadedCopy(a *domain.Assignment) *domain.Assignment {
	out := *a
	out.Agent = m.agents[a.AgentID]
	out.Client = m.clients[a.ClientID]
	return &out
}

func (m *memStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	return nil, nil
}

func (m *memStore) MarkRead(ctx context.Context, id, recipientID string) error { return nil }

func (m *memStore) DashboardStats(ctx context.Context) (*ports.DashboardStats, error) {
	return &ports.DashboardStats{}, nil
}

// wsHarness wires a real Server over the in-memory store and serves it from
// an httptest listener.
type wsHarness struct {
	store  *memStore
	server *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	store := newMemStore()

	lat, lng := 12.90, 77.50
	store.agents["agent-1"] = &domain.Agent{
		ID: "agent-1", Name: "Asha", Role: domain.RoleAgent, Token: "agent-token",
		Active: true, CurrentLat: &lat, CurrentLng: &lng,
	}
	store.agents["mgr-1"] = &domain.Agent{
		ID: "mgr-1", Name: "Ravi", Role: domain.RoleManager, Token: "manager-token", Active: true,
	}
	store.clients["client-1"] = &domain.Client{
		ID: "client-1", Name: "Acme", Address: "12 MG Road", Phone: "555-0101",
		Lat: 12.9045, Lng: 77.50, Priority: domain.PriorityMedium, Active: true,
	}

	hub := NewHub()
	dispatch := services.NewDispatchService(store, store, store, store, hub)
	srv := NewServer(dispatch, nil, nil, store, store, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &wsHarness{store: store, server: ts}
}

func (h *wsHarness) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + path + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })

	// First frame is always the connection confirmation.
	if event := readEvent(t, conn); event["type"] != domain.EventConnectionEstablished {
		t.Fatalf("first frame = %v, want connection_established", event["type"])
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestWSRejectsBadAuth(t *testing.T) {
	h := newWSHarness(t)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(url+"/ws/agent", nil); err == nil {
		t.Error("missing token must refuse the upgrade")
	} else if resp == nil || resp.StatusCode != 401 {
		t.Errorf("missing token status = %v, want 401", resp)
	}

	// A manager token on the agent endpoint is a role mismatch.
	if _, resp, err := websocket.DefaultDialer.Dial(url+"/ws/agent?token=manager-token", nil); err == nil {
		t.Error("role mismatch must refuse the upgrade")
	} else if resp == nil || resp.StatusCode != 403 {
		t.Errorf("role mismatch status = %v, want 403", resp)
	}
}

func TestWSPingPong(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "/ws/agent", "agent-token")

	if err := conn.WriteJSON(map[string]any{"type": "ping", "timestamp": 1724932800}); err != nil {
		t.Fatalf("write: %v", err)
	}

	event := readEvent(t, conn)
	if event["type"] != "pong" {
		t.Fatalf("reply type = %v, want pong", event["type"])
	}
	if event["timestamp"] == nil {
		t.Error("pong must echo the request timestamp")
	}
}

func TestWSLocationUpdateReachesManagers(t *testing.T) {
	h := newWSHarness(t)
	manager := h.dial(t, "/ws/manager", "manager-token")
	agent := h.dial(t, "/ws/agent", "agent-token")

	if err := agent.WriteJSON(map[string]any{
		"type": "location_update", "latitude": 12.91, "longitude": 77.51, "accuracy": 5.0,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Sender gets the ack on its own connection.
	if ack := readEvent(t, agent); ack["type"] != "location_updated" {
		t.Fatalf("agent ack = %v, want location_updated", ack["type"])
	}

	// Managers get the broadcast.
	event := readEvent(t, manager)
	if event["type"] != domain.EventLocationUpdate {
		t.Fatalf("manager received %v, want location_update", event["type"])
	}
	if event["agent_id"] != "agent-1" || event["lat"] != 12.91 || event["lng"] != 77.51 {
		t.Errorf("broadcast payload mismatch: %v", event)
	}
}

func TestWSLocationUpdateValidation(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "/ws/agent", "agent-token")

	// Missing coordinates.
	conn.WriteJSON(map[string]any{"type": "location_update"})
	if event := readEvent(t, conn); event["type"] != "error" {
		t.Errorf("missing coords reply = %v, want error", event["type"])
	}

	// Out of range.
	conn.WriteJSON(map[string]any{"type": "location_update", "latitude": 123.0, "longitude": 77.5})
	if event := readEvent(t, conn); event["type"] != "error" {
		t.Errorf("bad coords reply = %v, want error", event["type"])
	}
}

func TestWSMalformedFrameKeepsConnectionOpen(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "/ws/agent", "agent-token")

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	event := readEvent(t, conn)
	if event["type"] != "error" || event["message"] != "invalid JSON format" {
		t.Fatalf("malformed frame reply = %v", event)
	}

	// The same connection must still serve traffic.
	conn.WriteJSON(map[string]any{"type": "ping"})
	if event := readEvent(t, conn); event["type"] != "pong" {
		t.Errorf("connection dead after malformed frame, got %v", event["type"])
	}
}

func TestWSRoleGating(t *testing.T) {
	h := newWSHarness(t)
	manager := h.dial(t, "/ws/manager", "manager-token")

	// Managers do not report locations.
	manager.WriteJSON(map[string]any{"type": "location_update", "latitude": 12.9, "longitude": 77.5})
	if event := readEvent(t, manager); event["type"] != "error" {
		t.Errorf("manager location_update reply = %v, want error", event["type"])
	}

	agent := h.dial(t, "/ws/agent", "agent-token")
	agent.WriteJSON(map[string]any{"type": "create_assignment", "agent_id": "agent-1", "client_id": "client-1"})
	if event := readEvent(t, agent); event["type"] != "error" {
		t.Errorf("agent create_assignment reply = %v, want error", event["type"])
	}
}

func TestWSAssignmentLifecycle(t *testing.T) {
	h := newWSHarness(t)
	manager := h.dial(t, "/ws/manager", "manager-token")
	agent := h.dial(t, "/ws/agent", "agent-token")

	// Manager dispatches over the socket.
	manager.WriteJSON(map[string]any{
		"type": "create_assignment", "agent_id": "agent-1", "client_id": "client-1",
		"notes": "bring ladder",
	})

	// The agent is pushed the new assignment.
	pushed := readEvent(t, agent)
	if pushed["type"] != domain.EventNewAssignment {
		t.Fatalf("agent received %v, want new_assignment", pushed["type"])
	}
	if pushed["client_name"] != "Acme" || pushed["client_address"] != "12 MG Road" {
		t.Errorf("push payload must carry client details: %v", pushed)
	}
	assignmentID, _ := pushed["assignment_id"].(string)
	if assignmentID == "" {
		t.Fatal("push payload missing assignment_id")
	}

	// The manager gets its creation ack plus the managers-group broadcast,
	// in unspecified order.
	sawAck, sawBroadcast := false, false
	for i := 0; i < 2; i++ {
		switch event := readEvent(t, manager); event["type"] {
		case "assignment_created":
			sawAck = true
		case domain.EventNewAssignment:
			sawBroadcast = true
		default:
			t.Fatalf("unexpected manager frame: %v", event["type"])
		}
	}
	if !sawAck || !sawBroadcast {
		t.Fatalf("manager frames: ack=%v broadcast=%v", sawAck, sawBroadcast)
	}

	// Agent starts the work; both sides observe the transition.
	agent.WriteJSON(map[string]any{
		"type": "assignment_status_update", "assignment_id": assignmentID, "status": "in_progress",
	})

	sawAck = false
	var sawUpdate bool
	for i := 0; i < 2; i++ {
		switch event := readEvent(t, agent); event["type"] {
		case "assignment_status_updated":
			sawAck = true
		case domain.EventAssignmentUpdate:
			sawUpdate = true
			if event["status"] != "in_progress" {
				t.Errorf("broadcast status = %v, want in_progress", event["status"])
			}
		default:
			t.Fatalf("unexpected agent frame: %v", event["type"])
		}
	}
	if !sawAck || !sawUpdate {
		t.Fatalf("agent frames: ack=%v update=%v", sawAck, sawUpdate)
	}

	if event := readEvent(t, manager); event["type"] != domain.EventAssignmentUpdate {
		t.Fatalf("manager received %v, want assignment_update", event["type"])
	}

	// Cancelling a started assignment from the manager side.
	manager.WriteJSON(map[string]any{
		"type": "cancel_assignment", "assignment_id": assignmentID, "reason": "client rescheduled",
	})
	sawAck, sawUpdate = false, false
	for i := 0; i < 2; i++ {
		switch event := readEvent(t, manager); event["type"] {
		case "assignment_cancelled":
			sawAck = true
		case domain.EventAssignmentUpdate:
			sawUpdate = true
			if event["status"] != "cancelled" {
				t.Errorf("broadcast status = %v, want cancelled", event["status"])
			}
		default:
			t.Fatalf("unexpected manager frame: %v", event["type"])
		}
	}
	if !sawAck || !sawUpdate {
		t.Fatalf("manager frames: ack=%v update=%v", sawAck, sawUpdate)
	}
}

func TestWSDuplicateDeliveryAcrossSessions(t *testing.T) {
	h := newWSHarness(t)
	phone := h.dial(t, "/ws/manager", "manager-token")
	laptop := h.dial(t, "/ws/manager", "manager-token")
	agent := h.dial(t, "/ws/agent", "agent-token")

	agent.WriteJSON(map[string]any{"type": "location_update", "latitude": 12.91, "longitude": 77.51})
	readEvent(t, agent) // ack

	for _, conn := range []*websocket.Conn{phone, laptop} {
		if event := readEvent(t, conn); event["type"] != domain.EventLocationUpdate {
			t.Errorf("each manager session must receive the broadcast, got %v", event["type"])
		}
	}
}
