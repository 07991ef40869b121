// Package app wires application components and startup helpers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/job-platform/internal/adapter/httpserver"
	"github.com/fairyhunter13/job-platform/internal/adapter/observability"
	"github.com/fairyhunter13/job-platform/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes
// for the ingest/status/vector surface.
func BuildRouter(cfg config.Config, srv *httpserver.Server, tokens *httpserver.TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Group(func(authed chi.Router) {
		authed.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		authed.Use(tokens.RequireAuth)
		authed.Post("/jobs", srv.SubmitJobHandler())
		authed.Get("/jobs/{id}", srv.GetJobHandler())
		authed.Post("/vectors/embed", srv.SubmitEmbedJobHandler())
		authed.Post("/vectors/mock", srv.SubmitMockEmbedJobHandler())
		authed.Post("/vectors/search", srv.SearchVectorsHandler())
	})

	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
