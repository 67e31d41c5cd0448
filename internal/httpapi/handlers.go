package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/engine"
	"github.com/DoyleJ11/no-thanks-backend/internal/hub"
	"github.com/DoyleJ11/no-thanks-backend/internal/turn"
	"github.com/DoyleJ11/no-thanks-backend/internal/types"
)

const maxBodyBytes = 64 << 10

// Deps is shared by every handler.
type Deps struct {
	Service        *turn.Service
	Hub            *hub.Hub
	Log            *zap.Logger
	KeepAlive      time.Duration
	ListenerBuffer int
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = 15 * time.Second
	}
	if d.ListenerBuffer <= 0 {
		d.ListenerBuffer = 128
	}
	return d
}

func CreateSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := d.Service.CreateSession(r.Context(), turn.CreateSessionInput{
			Players:     req.EnginePlayers(),
			Seed:        req.Seed,
			PlayerOrder: req.PlayerOrder,
		})
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		w.Header().Set("Location", "/sessions/"+res.Snapshot.SessionID)
		w.Header().Set("ETag", etag(res.Version))
		writeJSON(w, http.StatusCreated, turn.NewView(res.Snapshot, res.Version))
	}
}

func GetSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.GetSession(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		tag := etag(res.Version)
		w.Header().Set("ETag", tag)
		if matchesETag(r.Header.Get("If-None-Match"), tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, turn.NewView(res.Snapshot, res.Version))
	}
}

type commandResponse struct {
	Session  turn.View `json:"session"`
	Replayed bool      `json:"replayed"`
}

func SubmitCommand(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CommandRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.CommandID == "" {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Code: types.CodeInvalidRequest, Message: "commandId is required"})
			return
		}
		if req.ExpectedVersion == "" {
			req.ExpectedVersion = firstETag(r.Header.Get("If-Match"))
		}
		res, err := d.Service.Submit(r.Context(), turn.CommandInput{
			SessionID:       chi.URLParam(r, "id"),
			CommandID:       req.CommandID,
			ExpectedVersion: req.ExpectedVersion,
			PlayerID:        req.PlayerID,
			Action:          engine.Action(req.Action),
		})
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		w.Header().Set("ETag", etag(res.Version))
		writeJSON(w, http.StatusOK, commandResponse{
			Session:  turn.NewView(res.Snapshot, res.Version),
			Replayed: res.Replayed,
		})
	}
}

func GetResults(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := d.Service.GetResults(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func GetHint(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok, err := d.Service.GetHint(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		resp := types.HintResponse{}
		if ok {
			resp.Hint = &h
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "malformed JSON body"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Code: types.CodeInvalidRequest, Message: msg})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, body, known := types.NewErrorResponse(err)
	if !known {
		log.Error("unhandled error", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func etag(version string) string {
	return `"` + version + `"`
}

// matchesETag reports whether an If-None-Match header selects tag. Weak
// validators compare equal to their strong form.
func matchesETag(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			return true
		}
		if strings.TrimPrefix(part, "W/") == tag {
			return true
		}
	}
	return false
}

// firstETag extracts the first version named in an If-Match header.
func firstETag(header string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "W/")
		if part == "" || part == "*" {
			continue
		}
		return strings.Trim(part, `"`)
	}
	return ""
}
