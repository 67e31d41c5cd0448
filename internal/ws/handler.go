package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/hub"
	"github.com/DoyleJ11/no-thanks-backend/internal/turn"
	"github.com/DoyleJ11/no-thanks-backend/internal/types"
	pub "github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

const writeTimeout = 3 * time.Second

type Deps struct {
	Service        *turn.Service
	Hub            *hub.Hub
	Log            *zap.Logger
	ListenerBuffer int
}

// Handler mirrors the SSE stream over a WebSocket and accepts commands on
// the same connection. Frames are written as pkg/types.Frame JSON.
func Handler(d Deps) http.HandlerFunc {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.ListenerBuffer <= 0 {
		d.ListenerBuffer = 128
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		if _, err := d.Service.GetSession(sessionID); err != nil {
			status, body, _ := types.NewErrorResponse(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		lastEventID := r.URL.Query().Get("lastEventId")
		out := make(chan pub.Frame, d.ListenerBuffer)
		sub, err := d.Hub.Connect(r.Context(), sessionID, lastEventID, out)
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "stream unavailable")
			return
		}
		defer sub.Disconnect()

		log := d.Log.With(zap.String("session_id", sessionID), zap.String("listener_id", sub.ID))
		log.Debug("ws listener attached")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		logFrames, err := d.Service.Events().FramesAfter(sessionID, sub.LogAfter)
		if err != nil {
			log.Warn("ws log replay failed", zap.Error(err))
			return
		}
		for _, f := range sub.Merge(logFrames) {
			if err := writeJSON(ctx, conn, f); err != nil {
				return
			}
		}

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case f, ok := <-out:
					if !ok {
						conn.Close(websocket.StatusTryAgainLater, "listener dropped")
						return
					}
					if err := writeJSON(ctx, conn, f); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("ws read ended", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeJSON(ctx, conn, errorMessage("", types.ErrorResponse{Code: types.CodeInvalidRequest, Message: "bad json"}))
				continue
			}
			if cm.Type != "command" {
				_ = writeJSON(ctx, conn, errorMessage(cm.CommandID, types.ErrorResponse{Code: types.CodeInvalidRequest, Message: "unknown type"}))
				continue
			}
			if cm.CommandID == "" {
				_ = writeJSON(ctx, conn, errorMessage("", types.ErrorResponse{Code: types.CodeInvalidRequest, Message: "commandId is required"}))
				continue
			}

			res, err := d.Service.Submit(ctx, turn.CommandInput{
				SessionID:       sessionID,
				CommandID:       cm.CommandID,
				ExpectedVersion: cm.ExpectedVersion,
				PlayerID:        cm.PlayerID,
				Action:          engine.Action(cm.Action),
			})
			if err != nil {
				_, body, known := types.NewErrorResponse(err)
				if !known {
					log.Error("ws command failed", zap.Error(err))
				}
				_ = writeJSON(ctx, conn, errorMessage(cm.CommandID, body))
				continue
			}
			_ = writeJSON(ctx, conn, types.ServerMessage{
				Type:      "ack",
				CommandID: cm.CommandID,
				Version:   res.Version,
				Replayed:  res.Replayed,
			})
		}
	}
}

func errorMessage(commandID string, body types.ErrorResponse) types.ServerMessage {
	return types.ServerMessage{Type: "error", CommandID: commandID, Error: &body}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
