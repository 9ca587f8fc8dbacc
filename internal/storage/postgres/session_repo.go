package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// SessionRepository implements provision.SessionStore with PostgreSQL.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *provision.Session) error {
	model := toSessionModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating session %s: %w", s.ID, err)
	}
	return nil
}

// Get retrieves a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*provision.Session, error) {
	var model SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, provision.ErrNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return toSessionDomain(&model), nil
}

// Touch updates a session's last-activity timestamp.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("id = ?", id).
		Update("last_activity_at", at)
	if result.Error != nil {
		return fmt.Errorf("touching session %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return provision.ErrNotFound
	}
	return nil
}

// List returns a tenant's sessions, most recently active first.
func (r *SessionRepository) List(ctx context.Context, tenantID string, limit int) ([]provision.Session, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_activity_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []SessionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", tenantID, err)
	}

	result := make([]provision.Session, 0, len(models))
	for i := range models {
		result = append(result, *toSessionDomain(&models[i]))
	}
	return result, nil
}
