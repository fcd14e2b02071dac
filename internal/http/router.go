package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auditrelay/pkg/platform/audit/capture"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Deps are the pieces the router wires together.
type Deps struct {
	Capture  *capture.Interceptor
	Gatherer prometheus.Gatherer
	Routes   []Registrar
}

// NewRouter builds the public router. Recoverer sits outside capture so a
// panicking handler is still recorded (as a 500) before the 500 is written.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if deps.Capture != nil {
		r.Use(deps.Capture.Middleware)
	}

	for _, reg := range deps.Routes {
		reg.Register(r)
	}

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
