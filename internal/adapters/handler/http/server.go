package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/ports"
	"fieldops.dispatch/internal/core/services"
)

type ctxKey int

const userKey ctxKey = 0

type Server struct {
	router    *chi.Mux
	dispatch  *services.DispatchService
	routing   ports.Router
	healthSvc *services.HealthService
	agents    ports.AgentRepository
	stats     ports.StatsRepository
	bus       ports.GroupBus
}

func NewServer(
	dispatch *services.DispatchService,
	routing ports.Router,
	healthSvc *services.HealthService,
	agents ports.AgentRepository,
	stats ports.StatsRepository,
	bus ports.GroupBus,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		dispatch:  dispatch,
		routing:   routing,
		healthSvc: healthSvc,
		agents:    agents,
		stats:     stats,
		bus:       bus,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)

	// WebSocket endpoints, one per role. Auth runs before the upgrade.
	s.router.Get("/ws/agent", s.handleAgentWS)
	s.router.Get("/ws/manager", s.handleManagerWS)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/api/assignments", func(r chi.Router) {
			r.Get("/", s.handleListAssignments)
			r.Get("/{id}", s.handleGetAssignment)
			r.Post("/", s.requireRole(domain.RoleManager, s.handleCreateAssignment))
			r.Post("/auto", s.requireRole(domain.RoleManager, s.handleAutoAssign))
			r.Post("/{id}/status", s.handleUpdateStatus)
			r.Post("/{id}/cancel", s.handleCancelAssignment)
		})

		r.Get("/api/agents", s.handleListAgents)
		r.Get("/api/clients", s.handleListClients)
		r.Get("/api/stats", s.requireRole(domain.RoleManager, s.handleStats))
		r.Post("/api/location", s.requireRole(domain.RoleAgent, s.handleLocation))
		r.Get("/api/route", s.handleRoute)
		r.Get("/api/notifications", s.handleListNotifications)
		r.Post("/api/notifications/{id}/read", s.handleMarkRead)
	})
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// authenticate resolves the user from a bearer token (header or, for
// WebSocket clients that cannot set headers, the token query parameter).
func authenticate(r *http.Request, agents ports.AgentRepository) (*domain.Agent, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return nil, errors.New("missing token")
	}

	user, err := agents.GetAgentByToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, errors.New("unknown token")
	}
	return user, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := authenticate(r, s.agents)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) requireRole(role domain.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != role {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		next(w, r)
	}
}

func currentUser(r *http.Request) *domain.Agent {
	return r.Context().Value(userKey).(*domain.Agent)
}

func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	serveWS(domain.RoleAgent, s.agents, s.bus, s.dispatch, w, r)
}

func (s *Server) handleManagerWS(w http.ResponseWriter, r *http.Request) {
	serveWS(domain.RoleManager, s.agents, s.bus, s.dispatch, w, r)
}

// Health

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(report)
}

// Assignments

type createAssignmentRequest struct {
	AgentID  string `json:"agent_id"`
	ClientID string `json:"client_id"`
	Notes    string `json:"notes"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	a, err := s.dispatch.CreateAssignment(r.Context(), currentUser(r), req.AgentID, req.ClientID, req.Notes)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	RecordAssignment(string(a.Status))
	writeJSON(w, http.StatusCreated, a)
}

type autoAssignRequest struct {
	AgentID string `json:"agent_id"`
	Mode    string `json:"mode"`
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req autoAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode == "" {
		req.Mode = string(services.RankClosest)
	}

	a, err := s.dispatch.AutoAssign(r.Context(), currentUser(r), req.AgentID, services.RankMode(req.Mode))
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	RecordAssignment(string(a.Status))
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Assignment created successfully",
		"assignment_id": a.ID,
		"client_name":   a.Client.Name,
		"distance_km":   a.DistanceKm,
	})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	a, err := s.dispatch.UpdateStatus(r.Context(), currentUser(r), chi.URLParam(r, "id"),
		domain.AssignmentStatus(req.Status), req.Notes)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	RecordAssignment(string(a.Status))
	writeJSON(w, http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelAssignment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	a, err := s.dispatch.Cancel(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	RecordAssignment(string(a.Status))
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.dispatch.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil || a == nil {
		writeError(w, http.StatusNotFound, "assignment not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	f := ports.AssignmentFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  domain.AssignmentStatus(r.URL.Query().Get("status")),
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 20),
	}

	list, total, err := s.dispatch.ListAssignments(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assignments": list,
		"total":       total,
		"offset":      f.Offset,
		"limit":       f.Limit,
	})
}

// Directory

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.dispatch.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.dispatch.ListClients(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.DashboardStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Location

type locationRequest struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.dispatch.RecordLocation(r.Context(), currentUser(r), req.Latitude, req.Longitude, req.Accuracy); err != nil {
		if errors.Is(err, domain.ErrBadCoordinate) {
			writeError(w, http.StatusBadRequest, "invalid coordinates")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Location updated successfully"})
}

// Routing

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	start, err1 := queryPoint(r, "start_lat", "start_lng")
	end, err2 := queryPoint(r, "end_lat", "end_lng")
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid coordinates")
		return
	}

	route, err := s.routing.Route(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// Notifications

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifs, err := s.dispatch.ListNotifications(r.Context(), currentUser(r).ID, unreadOnly, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, notifs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), currentUser(r).ID); err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "marked as read"})
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDispatchError maps structured dispatch failures onto HTTP codes.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPermission):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrAgentNotFound),
		errors.Is(err, domain.ErrClientNotFound),
		errors.Is(err, domain.ErrAssignmentNotFound),
		errors.Is(err, domain.ErrNoCandidates):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAgentEngaged),
		errors.Is(err, domain.ErrClientEngaged),
		errors.Is(err, domain.ErrClientInactive),
		errors.Is(err, domain.ErrNoLocation),
		errors.Is(err, domain.ErrBadTransition),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func queryPoint(r *http.Request, latKey, lngKey string) (domain.Point, error) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get(latKey), 64)
	if err != nil {
		return domain.Point{}, err
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get(lngKey), 64)
	if err != nil {
		return domain.Point{}, err
	}
	if err := domain.ValidateCoordinate(lat, lng); err != nil {
		return domain.Point{}, err
	}
	return domain.Point{Lat: lat, Lng: lng}, nil
}
