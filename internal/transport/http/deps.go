package http

import (
	"net/http"

	"github.com/go-seat-broker/internal/application/access"
	"github.com/go-seat-broker/internal/application/audit"
	"github.com/go-seat-broker/internal/transport/http/middleware"
)

// MetricsHandler instruments requests and serves the scrape endpoint.
type MetricsHandler interface {
	Instrument(next http.Handler) http.Handler
	Handler() http.Handler
}

// Deps holds the services and infrastructure the router wires into handlers.
type Deps struct {
	Access   access.Service
	Audit    audit.Service
	Verifier middleware.TokenVerifier
	Metrics  MetricsHandler // optional
}
