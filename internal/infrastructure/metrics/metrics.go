package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-seat-broker/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seatbroker"

// Access counts seat access decisions. It satisfies access.Observer.
type Access struct {
	registry *prometheus.Registry

	codesIssued   *prometheus.CounterVec
	denials       *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	locks         *prometheus.CounterVec
	commitRaces   *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Access {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Access{
		registry: reg,
		codesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "codes_issued_total",
			Help:      "Passcodes issued, by attempt number.",
		}, []string{"attempt"}),
		denials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "denials_total",
			Help:      "Rejected issue and confirm requests, by error kind.",
		}, []string{"kind"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "outcomes_total",
			Help:      "Confirmed attempt outcomes.",
		}, []string{"outcome"}),
		locks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "seats_locked_total",
			Help:      "Seats moved to locked, by reason.",
		}, []string{"reason"}),
		commitRaces: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "commit_races_total",
			Help:      "Conditional commits lost to a concurrent request, by operation.",
		}, []string{"op"}),
		httpDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (a *Access) CodeIssued(attempt int) {
	a.codesIssued.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (a *Access) Denied(kind string) { a.denials.WithLabelValues(kind).Inc() }

func (a *Access) Resolved(outcome domain.Outcome) {
	a.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (a *Access) Locked(reason string) { a.locks.WithLabelValues(reason).Inc() }

func (a *Access) CommitRace(op string) { a.commitRaces.WithLabelValues(op).Inc() }

// Handler serves the registry in the Prometheus text format.
func (a *Access) Handler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Instrument records request durations labelled by chi route pattern, so
// path parameters don't explode label cardinality.
func (a *Access) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.httpDurations.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
