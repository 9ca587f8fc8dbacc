package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/msaidizi/internal/provision"
)

// SettingsRepository implements provision.SettingsStore with PostgreSQL.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a SettingsRepository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// DefaultDatabaseID returns the shared knowledge base backing database id.
func (r *SettingsRepository) DefaultDatabaseID(ctx context.Context) (string, error) {
	var model SettingModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", settingDefaultDatabaseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", provision.ErrNotFound
		}
		return "", fmt.Errorf("getting default database id: %w", err)
	}
	return model.Value, nil
}

// SetDefaultDatabaseID records the shared backing database id unless
// one is already set. ON CONFLICT DO NOTHING gives first-writer-wins
// across concurrent processes.
func (r *SettingsRepository) SetDefaultDatabaseID(ctx context.Context, id string) error {
	model := SettingModel{Name: settingDefaultDatabaseID, Value: id}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("setting default database id: %w", err)
	}
	return nil
}
