package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// AgentRepository implements provision.AgentStore with PostgreSQL.
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates an AgentRepository.
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Get retrieves an agent record by resource key.
func (r *AgentRepository) Get(ctx context.Context, key string) (*provision.Agent, error) {
	var model AgentModel
	if err := r.db.WithContext(ctx).First(&model, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, provision.ErrNotFound
		}
		return nil, fmt.Errorf("getting agent %s: %w", key, err)
	}
	return toAgentDomain(&model), nil
}

// Upsert inserts or replaces an agent record.
func (r *AgentRepository) Upsert(ctx context.Context, agent *provision.Agent) error {
	model := toAgentModel(agent)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("upserting agent %s: %w", agent.Key, err)
	}
	return nil
}

// List returns all agent records.
func (r *AgentRepository) List(ctx context.Context) ([]provision.Agent, error) {
	var models []AgentModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return toAgentDomainSlice(models), nil
}

// ListPending returns agents whose deployment is neither terminal nor
// reachable — the candidates for a reconciliation sweep.
func (r *AgentRepository) ListPending(ctx context.Context) ([]provision.Agent, error) {
	var models []AgentModel
	if err := r.db.WithContext(ctx).
		Where("deployment_url = '' AND deployment_status NOT IN (?)", []string{
			string(provision.StatusRunning),
			string(provision.StatusFailed),
			string(provision.StatusCanceled),
		}).
		Order("created_at").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing pending agents: %w", err)
	}
	return toAgentDomainSlice(models), nil
}

func toAgentDomainSlice(models []AgentModel) []provision.Agent {
	result := make([]provision.Agent, 0, len(models))
	for i := range models {
		result = append(result, *toAgentDomain(&models[i]))
	}
	return result
}
