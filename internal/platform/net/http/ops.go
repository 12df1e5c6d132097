package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"ghafacts/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports readiness of a dependency
type HealthFunc func(ctx context.Context) error

// Ops mounts /healthz and /metrics with recovery and access logging
func Ops(g prometheus.Gatherer, health HealthFunc) func(*chi.Mux) {
	return func(m *chi.Mux) {
		m.Use(middleware.Recoverer)
		m.Use(accessLog(time.Second))
		m.Get("/healthz", healthz(health))
		m.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}

type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthz(health HealthFunc) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		body, code := healthBody{Status: "ok"}, stdhttp.StatusOK
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				body, code = healthBody{Status: "degraded", Error: err.Error()}, stdhttp.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// captureWriter records the status written by the handler
type captureWriter struct {
	stdhttp.ResponseWriter
	status int
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

// accessLog logs method, path, status and elapsed; requests over slow log at warn
func accessLog(slow time.Duration) func(stdhttp.Handler) stdhttp.Handler {
	return func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			cw := &captureWriter{ResponseWriter: w, status: stdhttp.StatusOK}
			start := time.Now()

			next.ServeHTTP(cw, r)

			elapsed := time.Since(start)
			log := logger.Named("http")
			evt := log.Debug()
			if slow > 0 && elapsed >= slow {
				evt = log.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", cw.status).
				Dur("elapsed", elapsed).
				Msg("ops request")
		})
	}
}
