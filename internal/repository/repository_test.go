package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/castarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Preference{}, &models.Renderer{})
	require.NoError(t, err)

	return db
}

func TestPreferenceRepo_SetAndGet(t *testing.T) {
	repo := NewPreferenceRepository(setupTestDB(t))
	ctx := context.Background()

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Set(ctx, models.PrefShowPerfWarning, "true"))
	first, err := repo.Get(ctx, models.PrefShowPerfWarning)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "true", first.Value)
	assert.False(t, first.ID.IsZero())

	require.NoError(t, repo.Set(ctx, models.PrefShowPerfWarning, "false"))
	second, err := repo.Get(ctx, models.PrefShowPerfWarning)
	require.NoError(t, err)
	assert.Equal(t, "false", second.Value)
	assert.Equal(t, first.ID, second.ID, "upsert keeps the row")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPreferenceRepo_SetValidation(t *testing.T) {
	repo := NewPreferenceRepository(setupTestDB(t))

	err := repo.Set(context.Background(), "", "x")
	assert.ErrorIs(t, err, models.ErrKeyRequired)
	assert.Contains(t, err.Error(), "validating preference")
}

func TestPreferenceRepo_Delete(t *testing.T) {
	repo := NewPreferenceRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "a", "1"))
	require.NoError(t, repo.Set(ctx, "b", "2"))

	existed, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, existed)

	n, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWarningPreference(t *testing.T) {
	prefs := NewPreferenceRepository(setupTestDB(t))
	w := NewWarningPreference(prefs)
	ctx := context.Background()

	show, err := w.ShowPerfWarning(ctx)
	require.NoError(t, err)
	assert.True(t, show, "shown until suppressed")

	require.NoError(t, w.SuppressPerfWarning(ctx))
	show, err = w.ShowPerfWarning(ctx)
	require.NoError(t, err)
	assert.False(t, show)

	require.NoError(t, w.Reset(ctx))
	show, err = w.ShowPerfWarning(ctx)
	require.NoError(t, err)
	assert.True(t, show)

	require.NoError(t, prefs.Set(ctx, models.PrefShowPerfWarning, "not-a-bool"))
	show, err = w.ShowPerfWarning(ctx)
	require.NoError(t, err)
	assert.True(t, show)
}

func TestRendererRepo_Upsert(t *testing.T) {
	repo := NewRendererRepository(setupTestDB(t))
	ctx := context.Background()

	r := &models.Renderer{
		DescriptionURL: "http://tv.local:1400/desc.xml",
		FriendlyName:   "Living Room",
		UDN:            "uuid:1234",
	}
	require.NoError(t, repo.Upsert(ctx, r))
	require.NoError(t, repo.RecordCast(ctx, r.DescriptionURL))

	updated := &models.Renderer{
		DescriptionURL: "http://tv.local:1400/desc.xml",
		FriendlyName:   "Lounge",
		UDN:            "uuid:1234",
		ControlURL:     "http://tv.local:1400/AVTransport/Control",
	}
	require.NoError(t, repo.Upsert(ctx, updated))

	found, err := repo.GetByDescriptionURL(ctx, r.DescriptionURL)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Lounge", found.FriendlyName)
	assert.Equal(t, "http://tv.local:1400/AVTransport/Control", found.ControlURL)
	assert.Equal(t, int64(1), found.CastCount, "upsert keeps cast statistics")
	require.NotNil(t, found.LastCastAt)

	err = repo.Upsert(ctx, &models.Renderer{})
	assert.ErrorIs(t, err, models.ErrDescriptionURLRequired)
}

func TestRendererRepo_GetAllAndDelete(t *testing.T) {
	repo := NewRendererRepository(setupTestDB(t))
	ctx := context.Background()

	old := &models.Renderer{DescriptionURL: "http://a/desc.xml", LastSeenAt: time.Now().Add(-time.Hour)}
	recent := &models.Renderer{DescriptionURL: "http://b/desc.xml", LastSeenAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, old))
	require.NoError(t, repo.Upsert(ctx, recent))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "http://b/desc.xml", all[0].DescriptionURL)

	require.NoError(t, repo.Delete(ctx, "http://a/desc.xml"))
	found, err := repo.GetByDescriptionURL(ctx, "http://a/desc.xml")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRendererRepo_RecordCastUnknown(t *testing.T) {
	repo := NewRendererRepository(setupTestDB(t))
	err := repo.RecordCast(context.Background(), "http://missing/desc.xml")
	assert.ErrorIs(t, err, models.ErrRendererNotFound)
}
