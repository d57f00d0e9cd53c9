package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/castarr/internal/ffmpeg"
	"github.com/jmylchreest/castarr/internal/publish"
)

// ChainReporter reports running processing chains.
type ChainReporter interface {
	Stats(ctx context.Context) []ffmpeg.ChainStats
}

// MountLister lists published streams.
type MountLister interface {
	Mounts() []publish.MountInfo
}

// OutputHandler serves the engine and publishing endpoint state.
type OutputHandler struct {
	chains ChainReporter
	mounts MountLister
}

// NewOutputHandler creates an output handler.
func NewOutputHandler(chains ChainReporter, mounts MountLister) *OutputHandler {
	return &OutputHandler{chains: chains, mounts: mounts}
}

// Register registers the output routes with the API.
func (h *OutputHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChains",
		Method:      "GET",
		Path:        "/api/v1/chains",
		Summary:     "List processing chains",
		Description: "Returns each running ffmpeg chain with its tracks, counters and process usage",
		Tags:        []string{"Output"},
	}, h.ListChains)

	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List published streams",
		Tags:        []string{"Output"},
	}, h.ListStreams)
}

// ListChainsInput is the input for listing chains.
type ListChainsInput struct{}

// ListChainsOutput is the output for listing chains.
type ListChainsOutput struct {
	Body struct {
		Chains []ffmpeg.ChainStats `json:"chains"`
	}
}

// ListChains reports the engine's chains.
func (h *OutputHandler) ListChains(ctx context.Context, input *ListChainsInput) (*ListChainsOutput, error) {
	out := &ListChainsOutput{}
	out.Body.Chains = []ffmpeg.ChainStats{}
	if h.chains != nil {
		out.Body.Chains = append(out.Body.Chains, h.chains.Stats(ctx)...)
	}
	return out, nil
}

// ListStreamsInput is the input for listing published streams.
type ListStreamsInput struct{}

// ListStreamsOutput is the output for listing published streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []publish.MountInfo `json:"streams"`
	}
}

// ListStreams reports the publishing endpoint's mounts.
func (h *OutputHandler) ListStreams(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	out := &ListStreamsOutput{}
	out.Body.Streams = []publish.MountInfo{}
	if h.mounts != nil {
		out.Body.Streams = append(out.Body.Streams, h.mounts.Mounts()...)
	}
	return out, nil
}
