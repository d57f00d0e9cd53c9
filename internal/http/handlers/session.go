package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/castarr/internal/cast"
	"github.com/jmylchreest/castarr/internal/observability"
)

// Session is the cast session exposed by the API.
type Session interface {
	Snapshot() cast.Snapshot
	Announce(ctx context.Context) error
}

// SessionHandler serves the session status and the manual announce.
type SessionHandler struct {
	session Session
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(session Session) *SessionHandler {
	return &SessionHandler{session: session}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/session",
		Summary:     "Get cast session",
		Description: "Returns the orchestrator state, the routing decision and the registered streams",
		Tags:        []string{"Session"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID:   "announceSession",
		Method:        "POST",
		Path:          "/api/v1/session/announce",
		Summary:       "Re-announce the stream",
		Description:   "Sends Stop, SetAVTransportURI and Play to the renderer again for the running chain",
		Tags:          []string{"Session"},
		DefaultStatus: 204,
	}, h.Announce)
}

// GetSessionInput is the input for getting the session.
type GetSessionInput struct{}

// GetSessionOutput is the output for getting the session.
type GetSessionOutput struct {
	Body cast.Snapshot
}

// GetSession returns the current session snapshot.
func (h *SessionHandler) GetSession(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	return &GetSessionOutput{Body: h.session.Snapshot()}, nil
}

// AnnounceInput is the input for the announce endpoint.
type AnnounceInput struct{}

// AnnounceOutput is the output for the announce endpoint.
type AnnounceOutput struct{}

// Announce re-issues the device actions.
func (h *SessionHandler) Announce(ctx context.Context, input *AnnounceInput) (*AnnounceOutput, error) {
	if err := h.session.Announce(ctx); err != nil {
		if errors.Is(err, cast.ErrIdle) {
			return nil, huma.Error409Conflict("no chain is running")
		}
		observability.WithError(observability.LoggerFromContext(ctx), err).
			WarnContext(ctx, "manual announce failed")
		return nil, huma.Error502BadGateway("renderer rejected the announce", err)
	}
	return &AnnounceOutput{}, nil
}
