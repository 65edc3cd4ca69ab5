package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	executionhttp "github.com/odyssey-erp/dre-ingest/internal/execution/http"
	"github.com/odyssey-erp/dre-ingest/internal/observability"
	"github.com/odyssey-erp/dre-ingest/jobs"
)

// RouterParams groups dependencies for building the admin router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ExecutionHandler *executionhttp.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the admin chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	token := ""
	if params.Config != nil {
		token = params.Config.AdminToken
	}
	r.Group(func(r chi.Router) {
		r.Use(RequireToken(token, params.Logger))
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
		if params.ExecutionHandler != nil {
			params.ExecutionHandler.MountRoutes(r)
		}
	})

	return r
}
