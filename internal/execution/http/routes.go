// Package executionhttp exposes ingestion executions over HTTP.
package executionhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const triggerRateLimit = 5
const triggerRateWindow = time.Minute

// MountRoutes mendaftarkan endpoint daftar, detail dan pemicu eksekusi.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(triggerRateLimit, triggerRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Get("/executions", h.handleList)
	r.Get("/executions/{id}", h.handleGet)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/executions", h.handleTrigger)
	})
}
