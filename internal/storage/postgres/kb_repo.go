package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// KnowledgeBaseRepository implements provision.KnowledgeBaseStore with PostgreSQL.
type KnowledgeBaseRepository struct {
	db *gorm.DB
}

// NewKnowledgeBaseRepository creates a KnowledgeBaseRepository.
func NewKnowledgeBaseRepository(db *gorm.DB) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: db}
}

// Get retrieves a knowledge base record by resource key.
func (r *KnowledgeBaseRepository) Get(ctx context.Context, key string) (*provision.KnowledgeBase, error) {
	var model KnowledgeBaseModel
	if err := r.db.WithContext(ctx).First(&model, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, provision.ErrNotFound
		}
		return nil, fmt.Errorf("getting knowledge base %s: %w", key, err)
	}
	return toKnowledgeBaseDomain(&model), nil
}

// Upsert inserts or replaces a knowledge base record.
func (r *KnowledgeBaseRepository) Upsert(ctx context.Context, kb *provision.KnowledgeBase) error {
	model := toKnowledgeBaseModel(kb)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("upserting knowledge base %s: %w", kb.Key, err)
	}
	return nil
}

// List returns all knowledge base records.
func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]provision.KnowledgeBase, error) {
	var models []KnowledgeBaseModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}

	result := make([]provision.KnowledgeBase, 0, len(models))
	for i := range models {
		result = append(result, *toKnowledgeBaseDomain(&models[i]))
	}
	return result, nil
}
