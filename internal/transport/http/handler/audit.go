package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-seat-broker/internal/application/audit"
	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/logger"
)

var errNoSeatID = errors.New("seat id is required")

// AuditHandler serves issuance trails to support staff.
type AuditHandler struct {
	svc audit.Service
}

func NewAuditHandler(svc audit.Service) *AuditHandler { return &AuditHandler{svc: svc} }

func (h *AuditHandler) Trail(w http.ResponseWriter, r *http.Request) {
	seatID := chi.URLParam(r, "seatID")
	if seatID == "" {
		httpError(w, r, fmt.Errorf("%w: %w", errNoSeatID, domain.ErrBadRequest))
		return
	}
	trail, err := h.svc.Trail(r.Context(), seatID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	seatID := chi.URLParam(r, "seatID")
	if seatID == "" {
		httpError(w, r, fmt.Errorf("%w: %w", errNoSeatID, domain.ErrBadRequest))
		return
	}
	res, err := h.svc.Export(r.Context(), seatID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "audit trail exported", "seat_id", seatID, "key", res.Key)
	writeJSON(w, http.StatusCreated, res)
}
