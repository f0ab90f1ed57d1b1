package services

import (
	"testing"

	"fieldops.dispatch/internal/core/domain"
)

func client(id string, priority int, lat, lng float64) *domain.Client {
	return &domain.Client{ID: id, Name: "client-" + id, Priority: priority, Lat: lat, Lng: lng, Active: true}
}

func TestClosestRankerIsDistanceMonotonic(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	pool := []*domain.Client{
		client("a", domain.PriorityLow, 12.95, 77.55),
		client("b", domain.PriorityUrgent, 12.91, 77.50),
		client("c", domain.PriorityMedium, 13.20, 77.80),
	}

	pick := SelectClient(ClosestRanker{}, agentPos, pool)
	if pick == nil {
		t.Fatal("expected a candidate")
	}

	for _, c := range pool {
		d := domain.HaversineKm(agentPos, c.Position())
		if pick.DistanceKm > d {
			t.Errorf("closest returned %s at %.3f km but %s is nearer at %.3f km",
				pick.Client.ID, pick.DistanceKm, c.ID, d)
		}
	}
}

func TestPriorityRankerNeverSkipsHigherPriority(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	pool := []*domain.Client{
		client("far-urgent", domain.PriorityUrgent, 13.10, 77.70),
		client("near-low", domain.PriorityLow, 12.901, 77.501),
		client("near-medium", domain.PriorityMedium, 12.902, 77.502),
	}

	pick := SelectClient(PriorityRanker{}, agentPos, pool)
	if pick == nil {
		t.Fatal("expected a candidate")
	}

	for _, c := range pool {
		if c.Priority > pick.Client.Priority {
			t.Errorf("priority returned %s (priority %d) while %s (priority %d) was available",
				pick.Client.ID, pick.Client.Priority, c.ID, c.Priority)
		}
	}
}

func TestPriorityRankerBreaksTiesByDistance(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	pool := []*domain.Client{
		client("far", domain.PriorityHigh, 12.99, 77.60),
		client("near", domain.PriorityHigh, 12.905, 77.505),
	}

	pick := SelectClient(PriorityRanker{}, agentPos, pool)
	if pick.Client.ID != "near" {
		t.Errorf("equal priority must prefer the nearer client, got %s", pick.Client.ID)
	}
}

func TestRankersAreDeterministicOnExactTies(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	// Identical position and priority: only the ID can break the tie.
	pool := []*domain.Client{
		client("zz", domain.PriorityMedium, 12.91, 77.51),
		client("aa", domain.PriorityMedium, 12.91, 77.51),
	}

	for i := 0; i < 10; i++ {
		if pick := SelectClient(ClosestRanker{}, agentPos, pool); pick.Client.ID != "aa" {
			t.Fatalf("closest tie-break not deterministic, got %s", pick.Client.ID)
		}
		if pick := SelectClient(PriorityRanker{}, agentPos, pool); pick.Client.ID != "aa" {
			t.Fatalf("priority tie-break not deterministic, got %s", pick.Client.ID)
		}
	}
}

func TestSelectClientEmptyPool(t *testing.T) {
	if pick := SelectClient(ClosestRanker{}, domain.Point{Lat: 12.90, Lng: 77.50}, nil); pick != nil {
		t.Errorf("empty pool must yield no candidate, got %v", pick.Client.ID)
	}
}

// Agent at (12.90, 77.50); C1 priority 4 roughly 2 km away, C2 priority 2
// roughly 0.5 km away. Closest mode picks C2, priority mode picks C1.
func TestModeSelectionScenario(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	c1 := client("c1", domain.PriorityUrgent, 12.918, 77.50) // ~2.0 km north
	c2 := client("c2", domain.PriorityMedium, 12.9045, 77.50) // ~0.5 km north
	pool := []*domain.Client{c1, c2}

	if pick := SelectClient(ClosestRanker{}, agentPos, pool); pick.Client.ID != "c2" {
		t.Errorf("closest mode selected %s, want c2", pick.Client.ID)
	}
	if pick := SelectClient(PriorityRanker{}, agentPos, pool); pick.Client.ID != "c1" {
		t.Errorf("priority mode selected %s, want c1", pick.Client.ID)
	}
}

func TestBalancedRankerDiscountsLoadedAgent(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	pool := []*domain.Client{
		client("far-urgent", domain.PriorityUrgent, 13.00, 77.60),
		client("near-high", domain.PriorityHigh, 12.905, 77.505),
	}

	// Unloaded: plain priority order, the urgent client wins.
	if pick := SelectClient(BalancedRanker{RecentLoad: 0}, agentPos, pool); pick.Client.ID != "far-urgent" {
		t.Errorf("unloaded balanced selected %s, want far-urgent", pick.Client.ID)
	}

	// Heavily loaded: priority bands collapse and distance decides.
	if pick := SelectClient(BalancedRanker{RecentLoad: 6}, agentPos, pool); pick.Client.ID != "near-high" {
		t.Errorf("loaded balanced selected %s, want near-high", pick.Client.ID)
	}
}

func TestRankersDoNotMutatePool(t *testing.T) {
	agentPos := domain.Point{Lat: 12.90, Lng: 77.50}
	pool := []*domain.Client{
		client("b", domain.PriorityLow, 12.95, 77.55),
		client("a", domain.PriorityUrgent, 12.91, 77.50),
	}

	SelectClient(PriorityRanker{}, agentPos, pool)

	if pool[0].ID != "b" || pool[1].ID != "a" {
		t.Error("ranking must not reorder the caller's pool")
	}
}
