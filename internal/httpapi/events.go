package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/pkg/types"
)

// Events streams a session over server-sent events. A reconnecting client's
// Last-Event-ID may be any id it saw, gateway or log; the replay holds what
// was published after it, in publish order, and live frames follow.
func Events(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		if _, err := d.Service.GetSession(sessionID); err != nil {
			writeError(w, d.Log, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		lastEventID := r.Header.Get("Last-Event-ID")
		if lastEventID == "" {
			lastEventID = r.URL.Query().Get("lastEventId")
		}

		out := make(chan types.Frame, d.ListenerBuffer)
		sub, err := d.Hub.Connect(r.Context(), sessionID, lastEventID, out)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		defer sub.Disconnect()

		log := d.Log.With(zap.String("session_id", sessionID), zap.String("listener_id", sub.ID))
		log.Debug("sse listener attached", zap.String("last_event_id", lastEventID))

		logFrames, err := d.Service.Events().FramesAfter(sessionID, sub.LogAfter)
		if err != nil {
			writeError(w, log, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		for _, f := range sub.Merge(logFrames) {
			if err := writeFrame(w, f); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(d.KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case f, ok := <-out:
				if !ok {
					// dropped by the hub or the hub shut down
					return
				}
				if err := writeFrame(w, f); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, f types.Frame) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", f.ID, f.Event, f.Data)
	return err
}
