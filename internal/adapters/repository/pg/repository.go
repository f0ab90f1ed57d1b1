package pg

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/ports"
)

// Repository implements every persistence port over one gorm handle.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"")

	if err := db.AutoMigrate(
		&domain.Agent{},
		&domain.Client{},
		&domain.Assignment{},
		&domain.LocationSample{},
		&domain.Notification{},
	); err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Agent methods

func (r *Repository) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	var agent domain.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

func (r *Repository) GetAgentByToken(ctx context.Context, token string) (*domain.Agent, error) {
	var agent domain.Agent
	if err := r.db.WithContext(ctx).First(&agent, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

func (r *Repository) ListAgents(ctx context.Context, role domain.Role) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	q := r.db.WithContext(ctx).Order("name")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if err := q.Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// UpdateLocation writes the agent's current position and the history sample
// in one transaction: the invariant is that a location update always also
// appends to the sample log.
func (r *Repository) UpdateLocation(ctx context.Context, agentID string, sample *domain.LocationSample) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Agent{}).Where("id = ?", agentID).
			Updates(map[string]interface{}{
				"current_lat": sample.Lat,
				"current_lng": sample.Lng,
				"updated_at":  gorm.Expr("NOW()"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAgentNotFound
		}
		return tx.Create(sample).Error
	})
}

// Client methods

func (r *Repository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var client domain.Client
	if err := r.db.WithContext(ctx).First(&client, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}

func (r *Repository) ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error) {
	var clients []*domain.Client
	q := r.db.WithContext(ctx).Order("priority desc, name")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (r *Repository) ListUnassigned(ctx context.Context) ([]*domain.Client, error) {
	var clients []*domain.Client
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("id NOT IN (?)", r.db.Model(&domain.Assignment{}).
			Select("client_id").
			Where("status IN ?", activeStatuses())).
		Find(&clients).Error
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// Assignment methods

func (r *Repository) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	var a domain.Assignment
	err := r.db.WithContext(ctx).Preload("Agent").Preload("Client").
		First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) ListAssignments(ctx context.Context, f ports.AssignmentFilter) ([]*domain.Assignment, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Assignment{})
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []*domain.Assignment
	err := q.Preload("Agent").Preload("Client").
		Order("assigned_at desc").Offset(f.Offset).Limit(f.Limit).
		Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *Repository) ActiveByAgent(ctx context.Context, agentID string) (*domain.Assignment, error) {
	return r.activeBy(ctx, "agent_id", agentID)
}

func (r *Repository) ActiveByClient(ctx context.Context, clientID string) (*domain.Assignment, error) {
	return r.activeBy(ctx, "client_id", clientID)
}

func (r *Repository) activeBy(ctx context.Context, column, id string) (*domain.Assignment, error) {
	var a domain.Assignment
	err := r.db.WithContext(ctx).
		Where(column+" = ? AND status IN ?", id, activeStatuses()).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) CountRecentByAgent(ctx context.Context, agentID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Assignment{}).
		Where("agent_id = ? AND assigned_at >= ?", agentID, since).
		Count(&count).Error
	return count, err
}

// CreateAssignment enforces the single-active-engagement rule. The agent
// and client rows are locked FOR UPDATE (agent first, then client, so
// concurrent creators serialize in a fixed order) and the preconditions are
// re-checked under the locks before the insert. Violation rolls back with
// nothing written.
func (r *Repository) CreateAssignment(ctx context.Context, a *domain.Assignment, notifs []*domain.Notification) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent domain.Agent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&agent, "id = ?", a.AgentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAgentNotFound
			}
			return err
		}
		if !agent.HasLocation() {
			return domain.ErrNoLocation
		}

		var client domain.Client
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&client, "id = ?", a.ClientID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrClientNotFound
			}
			return err
		}
		if !client.Active {
			return domain.ErrClientInactive
		}

		var engaged int64
		if err := tx.Model(&domain.Assignment{}).
			Where("agent_id = ? AND status IN ?", a.AgentID, activeStatuses()).
			Count(&engaged).Error; err != nil {
			return err
		}
		if engaged > 0 {
			return domain.ErrAgentEngaged
		}

		if err := tx.Model(&domain.Assignment{}).
			Where("client_id = ? AND status IN ?", a.ClientID, activeStatuses()).
			Count(&engaged).Error; err != nil {
			return err
		}
		if engaged > 0 {
			return domain.ErrClientEngaged
		}

		if err := tx.Create(a).Error; err != nil {
			return err
		}
		if len(notifs) > 0 {
			if err := tx.Create(notifs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Transition locks the assignment row, applies mutate, and persists the
// result with its notifications atomically. An error from mutate rolls the
// whole unit back.
func (r *Repository) Transition(ctx context.Context, id string, mutate func(a *domain.Assignment) ([]*domain.Notification, error)) (*domain.Assignment, error) {
	var result *domain.Assignment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a domain.Assignment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&a, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAssignmentNotFound
			}
			return err
		}

		notifs, err := mutate(&a)
		if err != nil {
			return err
		}

		if err := tx.Save(&a).Error; err != nil {
			return err
		}
		if len(notifs) > 0 {
			if err := tx.Create(notifs).Error; err != nil {
				return err
			}
		}

		// Reload with relations for the broadcast payload.
		if err := tx.Preload("Agent").Preload("Client").
			First(&a, "id = ?", id).Error; err != nil {
			return err
		}
		result = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Notification methods

func (r *Repository) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*domain.Notification, error) {
	var notifs []*domain.Notification
	q := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID).
		Order("created_at desc").Limit(limit)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if err := q.Find(&notifs).Error; err != nil {
		return nil, err
	}
	return notifs, nil
}

func (r *Repository) MarkRead(ctx context.Context, id, recipientID string) error {
	res := r.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Stats

func (r *Repository) DashboardStats(ctx context.Context) (*ports.DashboardStats, error) {
	stats := &ports.DashboardStats{}
	db := r.db.WithContext(ctx)

	if err := db.Model(&domain.Agent{}).
		Where("role = ?", domain.RoleAgent).
		Count(&stats.TotalAgents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Agent{}).
		Where("role = ? AND active = ?", domain.RoleAgent, true).
		Count(&stats.ActiveAgents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Client{}).
		Where("active = ?", true).
		Count(&stats.ActiveClients).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Assignment{}).
		Where("status IN ?", activeStatuses()).
		Count(&stats.ActiveAssignments).Error; err != nil {
		return nil, err
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	if err := db.Model(&domain.Assignment{}).
		Where("status = ? AND completed_at >= ?", domain.StatusCompleted, midnight).
		Count(&stats.CompletedToday).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

func activeStatuses() []domain.AssignmentStatus {
	return []domain.AssignmentStatus{domain.StatusAssigned, domain.StatusInProgress}
}
