package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-seat-broker/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorEnvelope is returned for every failed seat operation. Kind and Recovery
// let clients branch without parsing the message.
type ErrorEnvelope struct {
	Error      string          `json:"error"`
	Kind       string          `json:"kind"`
	Recovery   domain.Recovery `json:"recovery,omitempty"`
	Locked     bool            `json:"locked,omitempty"`
	LockReason string          `json:"lock_reason,omitempty"`
	WaitTime   int             `json:"wait_time,omitempty"`
}

type IssueEnvelope struct {
	Code           string `json:"code"`
	Attempt        int    `json:"attempt"`
	IsFinalAttempt bool   `json:"is_final_attempt"`
	ExpiresIn      int    `json:"expires_in"`
}

type ConfirmRequest struct {
	Success *bool `json:"success" validate:"required"`
}

type ConfirmEnvelope struct {
	Success           bool             `json:"success"`
	State             domain.SeatState `json:"state"`
	Locked            bool             `json:"locked"`
	LockReason        string           `json:"lock_reason,omitempty"`
	AttemptsRemaining *int             `json:"attempts_remaining,omitempty"`
}

type StatusEnvelope struct {
	State               domain.SeatState `json:"state"`
	AttemptCount        int              `json:"attempt_count"`
	AttemptsRemaining   int              `json:"attempts_remaining"`
	Locked              bool             `json:"locked"`
	LockReason          string           `json:"lock_reason,omitempty"`
	PendingConfirmation bool             `json:"pending_confirmation"`
	NextIssueIn         int              `json:"next_issue_in"`
	FavorableWindowIn   int              `json:"favorable_window_in"`
}

type WindowEnvelope struct {
	WaitSeconds int       `json:"wait_seconds"`
	ExpiresIn   int       `json:"expires_in"`
	ServerTime  time.Time `json:"server_time"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
