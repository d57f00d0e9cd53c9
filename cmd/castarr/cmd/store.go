package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/castarr/internal/config"
	"github.com/jmylchreest/castarr/internal/database"
	"github.com/jmylchreest/castarr/internal/models"
	"github.com/jmylchreest/castarr/internal/repository"
	"github.com/jmylchreest/castarr/internal/upnp"
)

// store bundles the database and its repositories.
type store struct {
	db        *database.DB
	prefs     repository.PreferenceRepository
	renderers repository.RendererRepository
	history   bool
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*store, error) {
	db, err := database.New(cfg, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &store{
		db:        db,
		prefs:     repository.NewPreferenceRepository(db.DB),
		renderers: repository.NewRendererRepository(db.DB),
		history:   cfg.RendererHistory,
	}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// rememberRenderer records a described device when renderer history is
// enabled. Failures are logged only.
func (s *store) rememberRenderer(ctx context.Context, deviceURL string, desc *upnp.Description, logger *slog.Logger) {
	if !s.history {
		return
	}
	r := &models.Renderer{
		DescriptionURL: deviceURL,
		UDN:            desc.Device.UDN,
		FriendlyName:   desc.Device.FriendlyName,
		Manufacturer:   desc.Device.Manufacturer,
		ModelName:      desc.Device.ModelName,
	}
	if ref, ok := desc.FindEndpoint(upnp.AVTransportServiceType, upnp.KindControlURL); ok {
		r.ControlURL = ref
	}
	if err := s.renderers.Upsert(ctx, r); err != nil {
		logger.Warn("failed to record renderer", slog.String("error", err.Error()))
	}
}

// recordCast stamps a cast against a remembered renderer.
func (s *store) recordCast(ctx context.Context, deviceURL string, logger *slog.Logger) {
	if !s.history {
		return
	}
	if err := s.renderers.RecordCast(ctx, deviceURL); err != nil {
		logger.Debug("cast not recorded", slog.String("error", err.Error()))
	}
}

// newRendererSession opens a control session against the configured device.
// Closing the session releases the context.
func newRendererSession(cfg config.RendererConfig, logger *slog.Logger) (*upnp.Session, *upnp.Context, error) {
	uctx := upnp.NewContext(upnp.ContextConfig{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})
	defer uctx.Release()

	session, err := upnp.NewSession(uctx, upnp.SessionConfig{
		DeviceURL: cfg.URL,
		BaseURL:   cfg.BaseURL,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating renderer session: %w", err)
	}
	return session, uctx, nil
}
