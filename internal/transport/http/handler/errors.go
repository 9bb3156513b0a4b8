package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/logger"
)

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{domain.ErrBadRequest, http.StatusUnprocessableEntity, "bad_request"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests, "too_many_requests"},
}

// httpError maps a service error onto the seat API error body. Anything that is
// not a known denial is logged and answered with a generic 500, which keeps
// configuration details on the server.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		env := ErrorEnvelope{
			Error:    err.Error(),
			Kind:     k.kind,
			Recovery: domain.RecoveryFor(err),
		}
		var de *domain.DenialError
		if errors.As(err, &de) {
			if de.Message != "" {
				env.Error = de.Message
			}
			env.Locked = de.Locked
			env.LockReason = de.LockReason
			env.WaitTime = de.WaitSeconds
		}
		if env.WaitTime > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(env.WaitTime))
		}
		writeJSON(w, k.status, env)
		return
	}

	kind := "internal"
	if errors.Is(err, domain.ErrConfiguration) {
		kind = "configuration"
	}
	logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", kind, "err", err)
	writeJSON(w, http.StatusInternalServerError, ErrorEnvelope{
		Error: "internal server error",
		Kind:  kind,
	})
}
