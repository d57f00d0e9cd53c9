package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/castarr/internal/models"
)

// rendererRepository implements RendererRepository using GORM.
type rendererRepository struct {
	db *gorm.DB
}

// NewRendererRepository creates a new RendererRepository.
func NewRendererRepository(db *gorm.DB) RendererRepository {
	return &rendererRepository{db: db}
}

// GetByDescriptionURL retrieves a renderer by its description URL.
func (r *rendererRepository) GetByDescriptionURL(ctx context.Context, descriptionURL string) (*models.Renderer, error) {
	var renderer models.Renderer
	if err := r.db.WithContext(ctx).First(&renderer, "description_url = ?", descriptionURL).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &renderer, nil
}

// GetAll retrieves every renderer, most recently seen first.
func (r *rendererRepository) GetAll(ctx context.Context) ([]*models.Renderer, error) {
	var renderers []*models.Renderer
	if err := r.db.WithContext(ctx).Order("last_seen_at DESC").Find(&renderers).Error; err != nil {
		return nil, err
	}
	return renderers, nil
}

// Upsert creates or updates a renderer based on description URL. Cast
// statistics are left untouched on update.
func (r *rendererRepository) Upsert(ctx context.Context, renderer *models.Renderer) error {
	if err := renderer.Validate(); err != nil {
		return fmt.Errorf("validating renderer: %w", err)
	}
	if renderer.LastSeenAt.IsZero() {
		renderer.LastSeenAt = models.Now()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "description_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"udn", "friendly_name", "manufacturer", "model_name",
			"control_url", "last_seen_at", "updated_at",
		}),
	}).Create(renderer).Error
}

// RecordCast stamps the last cast time and increments the cast count.
func (r *rendererRepository) RecordCast(ctx context.Context, descriptionURL string) error {
	now := models.Now()
	result := r.db.WithContext(ctx).Model(&models.Renderer{}).
		Where("description_url = ?", descriptionURL).
		UpdateColumns(map[string]any{
			"last_cast_at": now,
			"last_seen_at": now,
			"cast_count":   gorm.Expr("cast_count + ?", 1),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrRendererNotFound, descriptionURL)
	}
	return nil
}

// Delete hard-deletes a renderer by description URL.
func (r *rendererRepository) Delete(ctx context.Context, descriptionURL string) error {
	return r.db.WithContext(ctx).Delete(&models.Renderer{}, "description_url = ?", descriptionURL).Error
}
