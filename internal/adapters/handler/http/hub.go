package http

import (
	"sync"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/ports"
)

// Hub is the in-process group registry: the presence side of the GroupBus.
// Groups are keyed by durable identity (agent:<id>, manager:<id>,
// "managers"), never by connection, so every open session for a user
// receives every event and a user with no sessions simply drops it.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[ports.Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[ports.Subscriber]struct{})}
}

func (h *Hub) Join(group string, sub ports.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[ports.Subscriber]struct{})
		h.groups[group] = members
	}
	members[sub] = struct{}{}
}

// Leave is idempotent: leaving a group never joined, or leaving twice, is a
// no-op. Empty groups are dropped from the registry.
func (h *Hub) Leave(group string, sub ports.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Publish fans the event out to every current member. Sends are
// non-blocking; a subscriber that cannot accept the event drops it.
func (h *Hub) Publish(group string, event domain.Event) {
	h.mu.RLock()
	subs := make([]ports.Subscriber, 0, len(h.groups[group]))
	for sub := range h.groups[group] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.Send(event) {
			broadcastsTotal.WithLabelValues(groupLabel(group)).Inc()
		} else {
			broadcastsDropped.WithLabelValues(groupLabel(group)).Inc()
		}
	}
}

// GroupSize reports current membership, used by tests and diagnostics.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// groupLabel collapses per-user group names to keep metric cardinality flat.
func groupLabel(group string) string {
	if group == domain.GroupManagers {
		return "managers"
	}
	if len(group) > 6 && group[:6] == "agent:" {
		return "agent"
	}
	return "manager"
}
