package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fieldops.dispatch/internal/core/circuitbreaker"
	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
)

const routingTimeout = 10 * time.Second

// RoutingService resolves drivable paths via OpenRouteService. Provider
// failures are masked: the caller always gets a route, falling back to a
// two-point straight line with zero distance and duration.
type RoutingService struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewRoutingService(url, apiKey string) *RoutingService {
	return &RoutingService{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: routingTimeout},
		breaker: circuitbreaker.New("routing"),
	}
}

func (s *RoutingService) Route(ctx context.Context, start, end domain.Point) (*ports.Route, error) {
	if s.apiKey == "" {
		return straightLine(start, end), nil
	}

	var route *ports.Route
	err := s.breaker.Execute(ctx, func() error {
		r, err := s.lookup(ctx, start, end)
		if err != nil {
			return err
		}
		route = r
		return nil
	})
	if err != nil {
		logger.Warn("routing lookup failed, using straight line", "error", err)
		return straightLine(start, end), nil
	}
	return route, nil
}

// orsResponse is the subset of the OpenRouteService GeoJSON response the
// service consumes.
type orsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Segments []struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
				Steps    []struct {
					Instruction string `json:"instruction"`
				} `json:"steps"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

func (s *RoutingService) lookup(ctx context.Context, start, end domain.Point) (*ports.Route, error) {
	body, err := json.Marshal(map[string]any{
		"coordinates":  [][2]float64{{start.Lng, start.Lat}, {end.Lng, end.Lat}},
		"format":       "geojson",
		"instructions": true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing provider returned %d", resp.StatusCode)
	}

	var parsed orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode routing response: %w", err)
	}
	if len(parsed.Features) == 0 || len(parsed.Features[0].Properties.Segments) == 0 {
		return nil, fmt.Errorf("routing response has no route")
	}

	feature := parsed.Features[0]
	segment := feature.Properties.Segments[0]
	instructions := make([]string, 0, len(segment.Steps))
	for _, step := range segment.Steps {
		instructions = append(instructions, step.Instruction)
	}

	return &ports.Route{
		Coordinates:  feature.Geometry.Coordinates,
		DistanceM:    segment.Distance,
		DurationS:    segment.Duration,
		Instructions: instructions,
	}, nil
}

func straightLine(start, end domain.Point) *ports.Route {
	return &ports.Route{
		Coordinates:  [][2]float64{{start.Lng, start.Lat}, {end.Lng, end.Lat}},
		DistanceM:    0,
		DurationS:    0,
		Instructions: []string{"Follow the route to destination"},
	}
}
