// Package repository defines data access for castarr's persisted state.
// All database access goes through these interfaces.
package repository

import (
	"context"

	"github.com/jmylchreest/castarr/internal/models"
)

// PreferenceRepository defines operations for operator preference persistence.
type PreferenceRepository interface {
	// Get retrieves a preference by key. A missing key returns nil, nil.
	Get(ctx context.Context, key string) (*models.Preference, error)
	// GetAll retrieves every preference ordered by key.
	GetAll(ctx context.Context) ([]*models.Preference, error)
	// Set creates or updates the value of a key.
	Set(ctx context.Context, key, value string) error
	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteAll removes every preference.
	DeleteAll(ctx context.Context) (int64, error)
}

// RendererRepository defines operations for known renderer persistence.
type RendererRepository interface {
	// GetByDescriptionURL retrieves a renderer by its description URL.
	GetByDescriptionURL(ctx context.Context, descriptionURL string) (*models.Renderer, error)
	// GetAll retrieves every renderer, most recently seen first.
	GetAll(ctx context.Context) ([]*models.Renderer, error)
	// Upsert creates or updates a renderer keyed by description URL.
	Upsert(ctx context.Context, renderer *models.Renderer) error
	// RecordCast stamps the last cast time and increments the cast count.
	RecordCast(ctx context.Context, descriptionURL string) error
	// Delete hard-deletes a renderer by description URL.
	Delete(ctx context.Context, descriptionURL string) error
}
