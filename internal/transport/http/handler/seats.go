package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-seat-broker/internal/application/access"
	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/validate"
	"github.com/go-seat-broker/internal/transport/http/middleware"
)

// SeatHandler exposes passcode issuance and outcome confirmation to seat owners.
type SeatHandler struct {
	svc access.Service
}

func NewSeatHandler(svc access.Service) *SeatHandler { return &SeatHandler{svc: svc} }

func (h *SeatHandler) IssueCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.svc.IssueCode(r.Context(), access.IssueRequest{
		OrderItemID: chi.URLParam(r, "orderItemID"),
		CallerID:    claims.UserID,
		Requester: domain.RequesterMeta{
			RemoteIP:  middleware.ClientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		httpError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, IssueEnvelope{
		Code:           res.Code,
		Attempt:        res.Attempt,
		IsFinalAttempt: res.IsFinalAttempt,
		ExpiresIn:      res.ExpiresIn,
	})
}

func (h *SeatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, r, err)
		return
	}
	res, err := h.svc.ConfirmOutcome(r.Context(), access.ConfirmRequest{
		OrderItemID: chi.URLParam(r, "orderItemID"),
		CallerID:    claims.UserID,
		Success:     *req.Success,
	})
	if err != nil {
		httpError(w, r, err)
		return
	}
	env := ConfirmEnvelope{
		Success:    res.Success,
		State:      res.State,
		Locked:     res.Locked,
		LockReason: res.LockReason,
	}
	if !res.Success {
		remaining := res.AttemptsRemaining
		env.AttemptsRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *SeatHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	v, err := h.svc.Status(r.Context(), chi.URLParam(r, "orderItemID"), claims.UserID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusEnvelope{
		State:               v.State,
		AttemptCount:        v.AttemptCount,
		AttemptsRemaining:   v.AttemptsRemaining,
		Locked:              v.Locked,
		LockReason:          v.LockReason,
		PendingConfirmation: v.PendingConfirmation,
		NextIssueIn:         v.NextIssueIn,
		FavorableWindowIn:   v.FavorableWindowIn,
	})
}
