package repository

import (
	"context"
	"strconv"

	"github.com/jmylchreest/castarr/internal/chain"
	"github.com/jmylchreest/castarr/internal/models"
)

// WarningPreference stores the cross-session performance warning switch.
// A missing or unparsable value means the warning is shown.
type WarningPreference struct {
	prefs PreferenceRepository
}

// NewWarningPreference adapts prefs to the planner's preference interface.
func NewWarningPreference(prefs PreferenceRepository) *WarningPreference {
	return &WarningPreference{prefs: prefs}
}

var _ chain.WarningPreference = (*WarningPreference)(nil)

// ShowPerfWarning reports whether the prompt should be shown.
func (w *WarningPreference) ShowPerfWarning(ctx context.Context) (bool, error) {
	pref, err := w.prefs.Get(ctx, models.PrefShowPerfWarning)
	if err != nil {
		return true, err
	}
	if pref == nil {
		return true, nil
	}
	return pref.Bool(true), nil
}

// SuppressPerfWarning persists that the prompt should not be shown again.
func (w *WarningPreference) SuppressPerfWarning(ctx context.Context) error {
	return w.prefs.Set(ctx, models.PrefShowPerfWarning, strconv.FormatBool(false))
}

// Reset removes the stored switch so the prompt is shown again.
func (w *WarningPreference) Reset(ctx context.Context) error {
	_, err := w.prefs.Delete(ctx, models.PrefShowPerfWarning)
	return err
}
