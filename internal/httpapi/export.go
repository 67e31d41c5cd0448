package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/store"
	"github.com/DoyleJ11/no-thanks-backend/internal/types"
)

var csvHeader = []string{"id", "turn", "actor", "action", "timestamp", "chipsDelta", "details"}

// ExportLog renders the event log as JSON (default) or CSV. after skips
// every entry up to and including that id.
func ExportLog(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		format := q.Get("format")
		if format == "" {
			format = "json"
		}
		if format != "json" && format != "csv" {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{
				Code:    types.CodeInvalidRequest,
				Message: "format must be json or csv",
			})
			return
		}

		sessionID := chi.URLParam(r, "id")
		entries, err := d.Service.ListEventLog(sessionID, q.Get("after"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}

		if format == "json" {
			writeJSON(w, http.StatusOK, entries)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+sessionID+`-log.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := writeCSV(w, entries); err != nil {
			d.Log.Warn("csv export interrupted", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func writeCSV(w io.Writer, entries []store.LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		delta, err := jsonCell(e.ChipsDelta)
		if err != nil {
			return err
		}
		details, err := jsonCell(e.Details)
		if err != nil {
			return err
		}
		row := []string{
			e.ID,
			strconv.Itoa(e.Turn),
			e.Actor,
			e.Action,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			delta,
			details,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func jsonCell[M ~map[string]V, V any](m M) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
