package types

import (
	"net/http"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/gameerr"
	"github.com/DoyleJ11/no-thanks-backend/internal/hint"
)

type PlayerRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type CreateSessionRequest struct {
	Players     []PlayerRequest `json:"players"`
	Seed        string          `json:"seed,omitempty"`
	PlayerOrder []string        `json:"playerOrder,omitempty"`
}

func (r CreateSessionRequest) EnginePlayers() []engine.Player {
	out := make([]engine.Player, len(r.Players))
	for i, p := range r.Players {
		out[i] = engine.Player{ID: p.ID, DisplayName: p.DisplayName}
	}
	return out
}

type CommandRequest struct {
	CommandID       string `json:"commandId"`
	ExpectedVersion string `json:"expectedVersion"`
	PlayerID        string `json:"playerId"`
	Action          string `json:"action"`
}

type HintResponse struct {
	Hint *hint.Hint `json:"hint"`
}

const (
	CodeInternalError  = "INTERNAL_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse maps a domain error to its status and body. Anything
// outside the taxonomy becomes a 500 with a fixed message; known is false
// in that case so the caller can log the cause.
func NewErrorResponse(err error) (status int, body ErrorResponse, known bool) {
	if ge, ok := gameerr.As(err); ok {
		msg := ge.Message
		if len(multierr.Errors(err)) > 1 {
			msg = err.Error()
		}
		return ge.Status, ErrorResponse{Code: string(ge.Code), Message: msg}, true
	}
	return http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Message: "internal error"}, false
}

// ClientMessage is what a WebSocket client sends. Only "command" is understood.
type ClientMessage struct {
	Type string `json:"type"`
	CommandRequest
}

// ServerMessage answers a ClientMessage. Stream frames are sent as
// pkg/types.Frame and never wrapped.
type ServerMessage struct {
	Type      string         `json:"type"` // "ack" | "error"
	CommandID string         `json:"commandId,omitempty"`
	Version   string         `json:"version,omitempty"`
	Replayed  bool           `json:"replayed,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
}
