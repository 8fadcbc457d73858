// Package app assembles the HTTP router and readiness checks from config and
// the adapter layer.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filot/docverify/internal/adapter/httpserver"
	"github.com/filot/docverify/internal/config"
	"github.com/filot/docverify/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input means "*".
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

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Correlation-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// User surface: bearer auth plus a per-IP rate limit on mutations.
	r.Group(func(ur chi.Router) {
		ur.Use(httpserver.RequireUser(cfg.JWTSecret, srv.Users))
		ur.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/documents/upload", srv.HandleUpload)
			wr.Post("/documents/{id}/process", srv.HandleProcess)
			wr.Post("/verification/evaluate", srv.HandleEvaluate)
			wr.Post("/verification/{docId}/escalate", srv.HandleEscalate)
		})
		ur.Get("/documents/{id}/result", srv.HandleResult)
		ur.Get("/documents/{id}/download", srv.HandleDownload)
		ur.Get("/verification/status/{docId}", srv.HandleVerificationStatus)
	})

	// Internal surface: service key plus HMAC over the raw body.
	r.Group(func(ir chi.Router) {
		ir.Use(httpserver.RequireServiceKey(cfg.ServiceKey))
		ir.Use(httpserver.VerifySignature(cfg.HMACSecret()))
		ir.Post("/internal/reviews/{reviewId}/callback", srv.HandleCallback)
		ir.Post("/internal/verification/result", srv.HandleInternalResult)
	})

	r.Get("/health", srv.HandleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
