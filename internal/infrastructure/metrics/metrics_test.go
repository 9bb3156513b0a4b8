package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-seat-broker/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessCounters(t *testing.T) {
	m := New()
	m.CodeIssued(1)
	m.CodeIssued(2)
	m.CodeIssued(2)
	m.Denied("too_many_requests")
	m.Resolved(domain.OutcomeFailure)
	m.Locked(domain.LockReasonExhausted)
	m.CommitRace("issue")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.codesIssued.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.codesIssued.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("too_many_requests")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.locks.WithLabelValues(domain.LockReasonExhausted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitRaces.WithLabelValues("issue")))
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Denied("forbidden")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `seatbroker_access_denials_total{kind="forbidden"} 1`)
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/v1/seats/{orderItemID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/seats/item-42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := out.Body.String()
	assert.True(t, strings.Contains(body, `route="/v1/seats/{orderItemID}"`))
	assert.False(t, strings.Contains(body, "item-42"))
}
