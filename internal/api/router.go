package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/api/handler"
	apimw "github.com/lyb88999/gns/internal/api/middleware"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/ratelimiter"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/service"
)

// Deps is everything the HTTP layer needs from main.
type Deps struct {
	Service  *service.NotificationService
	Registry *registry.Registry
	Queue    *queue.PriorityQueue
	Workers  int

	Auth      *apimw.Authenticator
	RateLimit *ratelimiter.KeyedLimiters // nil disables per-IP limiting
	Health    *handler.HealthHandler     // nil means liveness only

	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(d.Logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(d.Service, d.Logger)
	bh := handler.NewBatchHandler(d.Service, d.Logger)
	th := handler.NewTaskHandler(d.Registry, d.Logger)
	mh := handler.NewMetricsHandler(d.Queue, d.Workers)
	hh := d.Health
	if hh == nil {
		hh = handler.NewHealthHandler()
	}

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(apimw.RateLimit(d.RateLimit))
		}
		if d.Auth != nil {
			r.Use(d.Auth.Middleware)
		}

		r.Post("/notify", nh.Submit)
		r.Post("/notify/batch", bh.SubmitBatch)

		r.Get("/jobs", nh.ListJobs)
		r.Get("/jobs/{id}", nh.GetJob)
		r.Delete("/jobs/{id}", nh.CancelJob)

		r.Post("/templates", th.CreateTemplate)
		r.Get("/templates", th.ListTemplates)
		r.Get("/templates/{id}", th.GetTemplate)

		r.Post("/tasks", th.CreateTask)
		r.Get("/tasks", th.ListTasks)
		r.Get("/tasks/{id}", th.GetTask)
		r.Delete("/tasks/{id}", th.DeactivateTask)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
