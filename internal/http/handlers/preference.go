package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/castarr/internal/models"
	"github.com/jmylchreest/castarr/internal/repository"
)

// PreferenceHandler exposes persisted operator preferences.
type PreferenceHandler struct {
	repo repository.PreferenceRepository
}

// NewPreferenceHandler creates a preference handler.
func NewPreferenceHandler(repo repository.PreferenceRepository) *PreferenceHandler {
	return &PreferenceHandler{repo: repo}
}

// Register registers the preference routes with the API.
func (h *PreferenceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPreferences",
		Method:      "GET",
		Path:        "/api/v1/preferences",
		Summary:     "List preferences",
		Tags:        []string{"Preferences"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "deletePreference",
		Method:        "DELETE",
		Path:          "/api/v1/preferences/{key}",
		Summary:       "Reset a preference",
		Description:   "Deletes a preference so its configured default applies again",
		Tags:          []string{"Preferences"},
		DefaultStatus: 204,
	}, h.Delete)
}

// ListPreferencesInput is the input for listing preferences.
type ListPreferencesInput struct{}

// ListPreferencesOutput is the output for listing preferences.
type ListPreferencesOutput struct {
	Body struct {
		Preferences []*models.Preference `json:"preferences"`
	}
}

// List returns every preference.
func (h *PreferenceHandler) List(ctx context.Context, input *ListPreferencesInput) (*ListPreferencesOutput, error) {
	prefs, err := h.repo.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list preferences", err)
	}
	out := &ListPreferencesOutput{}
	out.Body.Preferences = []*models.Preference{}
	if prefs != nil {
		out.Body.Preferences = prefs
	}
	return out, nil
}

// DeletePreferenceInput is the input for deleting a preference.
type DeletePreferenceInput struct {
	Key string `path:"key" doc:"Preference key, e.g. show_perf_warning"`
}

// DeletePreferenceOutput is the output for deleting a preference.
type DeletePreferenceOutput struct{}

// Delete removes a preference.
func (h *PreferenceHandler) Delete(ctx context.Context, input *DeletePreferenceInput) (*DeletePreferenceOutput, error) {
	found, err := h.repo.Delete(ctx, input.Key)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to delete preference", err)
	}
	if !found {
		return nil, huma.Error404NotFound(fmt.Sprintf("preference %s not found", input.Key))
	}
	return &DeletePreferenceOutput{}, nil
}
