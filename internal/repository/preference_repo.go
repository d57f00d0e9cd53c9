package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/castarr/internal/models"
)

// preferenceRepository implements PreferenceRepository using GORM.
type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

// Get retrieves a preference by key.
func (r *preferenceRepository) Get(ctx context.Context, key string) (*models.Preference, error) {
	var pref models.Preference
	if err := r.db.WithContext(ctx).First(&pref, "pref_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pref, nil
}

// GetAll retrieves every preference ordered by key.
func (r *preferenceRepository) GetAll(ctx context.Context) ([]*models.Preference, error) {
	var prefs []*models.Preference
	if err := r.db.WithContext(ctx).Order("pref_key ASC").Find(&prefs).Error; err != nil {
		return nil, err
	}
	return prefs, nil
}

// Set creates or updates the value of a key.
func (r *preferenceRepository) Set(ctx context.Context, key, value string) error {
	pref := &models.Preference{Key: key, Value: value}
	if err := pref.Validate(); err != nil {
		return fmt.Errorf("validating preference: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pref_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(pref).Error
}

// Delete removes a key.
func (r *preferenceRepository) Delete(ctx context.Context, key string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&models.Preference{}, "pref_key = ?", key)
	return result.RowsAffected > 0, result.Error
}

// DeleteAll removes every preference.
func (r *preferenceRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Preference{})
	return result.RowsAffected, result.Error
}
