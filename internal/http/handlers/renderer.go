package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/castarr/internal/models"
	"github.com/jmylchreest/castarr/internal/repository"
	"github.com/jmylchreest/castarr/internal/upnp"
)

// Renderer is the device of the running session.
type Renderer interface {
	DeviceURL() string
	Describe(ctx context.Context) (*upnp.Description, error)
	Services(ctx context.Context) ([]upnp.Service, error)
}

// RendererHandler serves device information and the known renderers.
type RendererHandler struct {
	renderer Renderer
	repo     repository.RendererRepository
}

// NewRendererHandler creates a renderer handler. Either argument may be nil.
func NewRendererHandler(renderer Renderer, repo repository.RendererRepository) *RendererHandler {
	return &RendererHandler{renderer: renderer, repo: repo}
}

// Register registers the renderer routes with the API.
func (h *RendererHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRenderer",
		Method:      "GET",
		Path:        "/api/v1/renderer",
		Summary:     "Describe the renderer",
		Description: "Fetches the device description of the renderer of this session",
		Tags:        []string{"Renderer"},
	}, h.GetRenderer)

	huma.Register(api, huma.Operation{
		OperationID: "listRendererServices",
		Method:      "GET",
		Path:        "/api/v1/renderer/services",
		Summary:     "List renderer services",
		Description: "Lists the services of the renderer with absolute control, event and SCPD URLs",
		Tags:        []string{"Renderer"},
	}, h.ListServices)

	huma.Register(api, huma.Operation{
		OperationID: "listKnownRenderers",
		Method:      "GET",
		Path:        "/api/v1/renderers",
		Summary:     "List known renderers",
		Description: "Lists renderers castarr has described or cast to, most recently seen first",
		Tags:        []string{"Renderer"},
	}, h.ListKnown)
}

// GetRendererInput is the input for describing the renderer.
type GetRendererInput struct{}

// GetRendererOutput is the output for describing the renderer.
type GetRendererOutput struct {
	Body struct {
		DescriptionURL string           `json:"description_url"`
		URLBase        string           `json:"url_base,omitempty"`
		Device         upnp.Device      `json:"device"`
		Known          *models.Renderer `json:"known,omitempty"`
	}
}

// GetRenderer fetches the device description.
func (h *RendererHandler) GetRenderer(ctx context.Context, input *GetRendererInput) (*GetRendererOutput, error) {
	if h.renderer == nil {
		return nil, huma.Error404NotFound("no renderer configured")
	}
	desc, err := h.renderer.Describe(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway("failed to describe renderer", err)
	}
	out := &GetRendererOutput{}
	out.Body.DescriptionURL = h.renderer.DeviceURL()
	out.Body.URLBase = desc.URLBase
	out.Body.Device = desc.Device
	if h.repo != nil {
		known, err := h.repo.GetByDescriptionURL(ctx, out.Body.DescriptionURL)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read renderer record", err)
		}
		out.Body.Known = known
	}
	return out, nil
}

// ListServicesInput is the input for listing services.
type ListServicesInput struct{}

// ListServicesOutput is the output for listing services.
type ListServicesOutput struct {
	Body struct {
		Services []upnp.Service `json:"services"`
	}
}

// ListServices lists the renderer's services.
func (h *RendererHandler) ListServices(ctx context.Context, input *ListServicesInput) (*ListServicesOutput, error) {
	if h.renderer == nil {
		return nil, huma.Error404NotFound("no renderer configured")
	}
	services, err := h.renderer.Services(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway("failed to read renderer services", err)
	}
	out := &ListServicesOutput{}
	out.Body.Services = services
	if out.Body.Services == nil {
		out.Body.Services = []upnp.Service{}
	}
	return out, nil
}

// ListKnownInput is the input for listing known renderers.
type ListKnownInput struct{}

// ListKnownOutput is the output for listing known renderers.
type ListKnownOutput struct {
	Body struct {
		Renderers []*models.Renderer `json:"renderers"`
	}
}

// ListKnown lists persisted renderers.
func (h *RendererHandler) ListKnown(ctx context.Context, input *ListKnownInput) (*ListKnownOutput, error) {
	out := &ListKnownOutput{}
	out.Body.Renderers = []*models.Renderer{}
	if h.repo == nil {
		return out, nil
	}
	renderers, err := h.repo.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list renderers", err)
	}
	if renderers != nil {
		out.Body.Renderers = renderers
	}
	return out, nil
}
