package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/einvoiceng/firshook/targets"
	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/manager"
)

// MetricsHandler serves the metrics scrape endpoint; the exporter in the
// metrics package satisfies it
type MetricsHandler interface {
	ServeHTTP() http.Handler
}

/* Handlers sets up the webhook API routes
 *
 * POST /v1/webhooks is the ingestion endpoint; the rest of /v1 is the
 * operator surface. loader and metricsHandler may be nil, in which case
 * the target reload and metrics endpoints are not mounted.
 */
func Handlers(ctx context.Context, svc *manager.Manager, loader *targets.Loader, targetsFile string, metricsHandler MetricsHandler) *chi.Mux {
	logger := httplog.NewLogger("firshook-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := svc.ComprehensiveStatus()
		code := http.StatusOK
		if status.Status == webhook.StatusStopped {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler.ServeHTTP())
	}

	// Webhook API routes
	r.Route("/v1", func(r chi.Router) {
		// Receive an event from the tax authority
		r.Post("/webhooks", postWebhook(svc).ServeHTTP)

		// Pipeline status
		r.Get("/status", getStatus(svc).ServeHTTP)

		// Dispatch targets
		r.Get("/targets", getTargets(svc).ServeHTTP)
		if loader != nil {
			r.Post("/targets/reload", reloadTargets(svc, loader, targetsFile).ServeHTTP)
		}

		// Retry queue administration
		r.Get("/retries", getRetries(svc).ServeHTTP)
		r.Post("/retries/{job_id}/requeue", postRequeue(svc).ServeHTTP)
		r.Delete("/retries/{job_id}", deleteRetry(svc).ServeHTTP)
	})

	return r
}
