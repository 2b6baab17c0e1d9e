package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
)

// RouterDeps wires the HTTP surface.
type RouterDeps struct {
	Service        *app.AssessmentService
	Dashboard      *app.Dashboard
	Auth           *Authenticator
	Logger         logrus.FieldLogger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	TickInterval   time.Duration
}

func NewRouter(deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := NewHandler(deps.Service, deps.Logger)
	ws := NewWSHandler(deps.Service, deps.Logger, origins)
	if deps.TickInterval > 0 {
		ws.tick = deps.TickInterval
	}
	dash := NewDashboardHandler(deps.Dashboard, deps.Logger, origins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)

		r.Get("/ws/attempt", ws.ServeWS)
		r.Route("/api/attempts", func(r chi.Router) {
			r.Post("/", h.Begin)
			r.Get("/{key}", h.GetRecord)
			r.Put("/{key}/answers/{index}", h.Answer)
			r.Post("/{key}/proctoring", h.Proctoring)
			r.Post("/{key}/submit", h.Submit)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/ws/admin/dashboard", dash.ServeWS)
			r.Route("/api/admin", func(r chi.Router) {
				r.Get("/dashboard", dash.Snapshot)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.PutSettings)
				r.Get("/attempts/{key}/recompute", h.Recompute)
				r.Post("/attempts/{key}/email", h.ResendEmail)
				r.Put("/attempts/{key}/email-sent", h.MarkEmailSent)
				r.Delete("/attempts/{key}", h.DeleteRecord)
				r.Post("/migrations/legacy", h.RunMigration)
			})
		})
	})
	return r
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
