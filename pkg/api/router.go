// Package api serves the Task Store and the legacy queue over HTTP so that
// other processes can use them as remote reconciliation tiers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damian-sirenko/signq/pkg/legacy"
	"github.com/damian-sirenko/signq/pkg/logger"
	"github.com/damian-sirenko/signq/pkg/metrics"
	"github.com/damian-sirenko/signq/pkg/store"
)

type App struct {
	Store  *store.Store
	Legacy *legacy.Queue
	Logger logger.Logger
}

func NewRouter(app *App) chi.Router {
	if app.Logger == nil {
		app.Logger = logger.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(app.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	RegisterRoutes(r, app)
	return r
}

func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/healthz", healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/sign-queue", func(r chi.Router) {
		r.Get("/", app.listQueue)
		r.Post("/upsert", app.upsertQueue)
		r.Post("/remove", app.removeQueue)
	})
	r.Route("/sign-queue-legacy", func(r chi.Router) {
		r.Get("/", app.listLegacy)
		r.Post("/", app.enqueueLegacy)
		r.Delete("/", app.clearLegacy)
	})
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
