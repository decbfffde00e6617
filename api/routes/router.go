package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/rankings-ingest/api/controllers"
	"github.com/angelmondragon/rankings-ingest/api/middleware"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

// RouterParams wire the worker's HTTP surface. Gatherer defaults to the
// Prometheus default registry.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Deps     map[string]db.Pinger
	Runner   controllers.PullRunner
	Lock     controllers.RunLock
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Config))
		r.Get("/ready", controllers.HealthReady(params.Config, params.Logger, params.Deps))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if params.Runner != nil && params.Lock != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/runs", controllers.TriggerRun(params.Runner, params.Lock, params.Logger))
		})
	}
	return r
}
