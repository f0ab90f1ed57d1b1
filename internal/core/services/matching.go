package services

import (
	"sort"

	"fieldops.dispatch/internal/core/domain"
)

type RankMode string

const (
	RankClosest  RankMode = "closest"
	RankPriority RankMode = "priority"
	RankBalanced RankMode = "balanced"
)

func (m RankMode) Valid() bool {
	return m == RankClosest || m == RankPriority || m == RankBalanced
}

// Candidate pairs a client with its distance from the requesting agent.
type Candidate struct {
	Client     *domain.Client
	DistanceKm float64
}

// Ranker orders a candidate pool and picks the best client for an agent.
// Implementations are pure: no mutation, safe to call speculatively.
type Ranker interface {
	Rank(agentPos domain.Point, pool []*domain.Client) []Candidate
}

// SelectClient returns the top-ranked client for the agent's position, or
// nil when the pool is empty. The pool must already be filtered to active,
// unengaged clients; location and engagement preconditions on the agent are
// the caller's responsibility.
func SelectClient(r Ranker, agentPos domain.Point, pool []*domain.Client) *Candidate {
	ranked := r.Rank(agentPos, pool)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// ClosestRanker orders by ascending great-circle distance. Ties break on
// client ID so the result is deterministic.
type ClosestRanker struct{}

func (ClosestRanker) Rank(agentPos domain.Point, pool []*domain.Client) []Candidate {
	ranked := withDistances(agentPos, pool)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Client.ID < ranked[j].Client.ID
	})
	return ranked
}

// PriorityRanker orders by descending priority, then ascending distance,
// then client ID.
type PriorityRanker struct{}

func (PriorityRanker) Rank(agentPos domain.Point, pool []*domain.Client) []Candidate {
	ranked := withDistances(agentPos, pool)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Client.Priority != ranked[j].Client.Priority {
			return ranked[i].Client.Priority > ranked[j].Client.Priority
		}
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Client.ID < ranked[j].Client.ID
	})
	return ranked
}

// BalancedRanker is the load-distribution policy hook: priority ordering
// where an agent's recent assignment count flattens the priority bands, so
// a loaded agent increasingly gets the nearest client instead of chasing
// urgency across town. RecentLoad is the agent's assignment count over the
// lookback window, supplied by the caller.
type BalancedRanker struct {
	RecentLoad int64
}

func (b BalancedRanker) Rank(agentPos domain.Point, pool []*domain.Client) []Candidate {
	ranked := withDistances(agentPos, pool)
	// Collapse priorities into coarser bands as load grows: band width is
	// 1 for an idle agent, the full 1-4 range once heavily loaded.
	band := func(c Candidate) int {
		width := 1 + int(b.RecentLoad)/2
		if width > domain.PriorityUrgent {
			width = domain.PriorityUrgent
		}
		return (c.Client.Priority - 1) / width
	}
	sort.Slice(ranked, func(i, j int) bool {
		if bi, bj := band(ranked[i]), band(ranked[j]); bi != bj {
			return bi > bj
		}
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Client.ID < ranked[j].Client.ID
	})
	return ranked
}

func withDistances(agentPos domain.Point, pool []*domain.Client) []Candidate {
	ranked := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		ranked = append(ranked, Candidate{
			Client:     c,
			DistanceKm: domain.HaversineKm(agentPos, c.Position()),
		})
	}
	return ranked
}
