package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/no-thanks-backend/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	d = d.withDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(d.Log))

	r.Get("/healthz", Healthz)
	r.Post("/sessions", CreateSession(d))
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", GetSession(d))
		r.Post("/commands", SubmitCommand(d))
		r.Get("/results", GetResults(d))
		r.Get("/hint", GetHint(d))
		r.Get("/log", ExportLog(d))
		r.Get("/events", Events(d))
		r.Get("/ws", ws.Handler(ws.Deps{
			Service:        d.Service,
			Hub:            d.Hub,
			Log:            d.Log,
			ListenerBuffer: d.ListenerBuffer,
		}))
	})
	return r
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
