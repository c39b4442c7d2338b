// Package httpapi exposes a small HTTP surface over the kernel for
// tooling parity with the wire protocol: kernel_info and health, the
// two read-only queries worth reaching without a Jupyter client.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// KernelInfo describes the kernel queries this API exposes, decoupled
// from *kernel.Kernel so the package has no import-cycle back onto it.
type KernelInfo interface {
	KernelInfo() map[string]any
	HealthCheck(ctx context.Context) map[string]any
}

// NewRouter builds the chi router serving /kernel_info and /health.
func NewRouter(k KernelInfo) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/kernel_info", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, k.KernelInfo())
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		status := k.HealthCheck(ctx)
		code := http.StatusOK
		if status["status"] == "Unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
