package domain

import (
	"fmt"
	"time"
)

// SeatState is the lifecycle position of a seat.
type SeatState string

const (
	SeatUnclaimed          SeatState = "unclaimed"
	SeatFirstCodeIssued    SeatState = "first_code_issued"
	SeatSecondChanceIssued SeatState = "second_chance_issued"
	SeatSuccess            SeatState = "success"
	SeatLocked             SeatState = "locked"
)

// MaxAttempts is the number of codes a seat may be issued before it locks.
const MaxAttempts = 2

const (
	LockReasonExhausted = "max attempts exhausted"
	LockReasonOverdrawn = "attempt budget exceeded"
)

// Terminal reports whether no further operation is permitted on the state.
func (s SeatState) Terminal() bool {
	return s == SeatSuccess || s == SeatLocked
}

// Seat is one buyer's right to attempt login to one shared credential.
// PK: seat_id. GSI: order_item_id-index.
type Seat struct {
	SeatID           string     `json:"id" dynamodbav:"seat_id"`
	OrderItemID      string     `json:"order_item_id" dynamodbav:"order_item_id"`
	BuyerID          string     `json:"buyer_id" dynamodbav:"buyer_id"`
	CredentialID     string     `json:"-" dynamodbav:"credential_id"`
	State            SeatState  `json:"state" dynamodbav:"state"`
	AttemptCount     int        `json:"attempt_count" dynamodbav:"attempt_count"`
	LastCodeIssuedAt *time.Time `json:"last_code_issued_at,omitempty" dynamodbav:"last_code_issued_at,omitempty"`
	LockReason       string     `json:"lock_reason,omitempty" dynamodbav:"lock_reason,omitempty"`
	LockedAt         *time.Time `json:"locked_at,omitempty" dynamodbav:"locked_at,omitempty"`
	CreatedAt        time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// NewSeat returns an unclaimed seat bound to a buyer and a credential.
func NewSeat(seatID, orderItemID, buyerID, credentialID string, now time.Time) Seat {
	return Seat{
		SeatID:       seatID,
		OrderItemID:  orderItemID,
		BuyerID:      buyerID,
		CredentialID: credentialID,
		State:        SeatUnclaimed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AttemptsRemaining is how many more codes the seat may be issued.
func (s Seat) AttemptsRemaining() int {
	if n := MaxAttempts - s.AttemptCount; n > 0 {
		return n
	}
	return 0
}

// TerminalDenial describes why a terminal seat rejects every operation.
func (s Seat) TerminalDenial() *DenialError {
	if s.State == SeatLocked {
		return &DenialError{
			Kind:       ErrForbidden,
			Message:    "seat is locked, contact support",
			Locked:     true,
			LockReason: s.LockReason,
		}
	}
	return Deny(ErrForbidden, "seat was already used successfully")
}

// PlanIssue returns the seat as it must look after one more code is issued at now.
// The spacing rate limit is not evaluated here.
func (s Seat) PlanIssue(now time.Time) (Seat, error) {
	if s.State.Terminal() {
		return s, s.TerminalDenial()
	}
	if s.AttemptCount >= MaxAttempts {
		return s, &DenialError{Kind: ErrForbidden, Message: "no attempts left, contact support", Locked: true, LockReason: LockReasonOverdrawn}
	}

	next := s
	switch {
	case s.State == SeatUnclaimed && s.AttemptCount == 0:
		next.State = SeatFirstCodeIssued
	case s.State == SeatFirstCodeIssued && s.AttemptCount == 1:
		next.State = SeatSecondChanceIssued
	default:
		return s, fmt.Errorf("seat %s in %s with %d attempts: %w", s.SeatID, s.State, s.AttemptCount, ErrConflict)
	}
	next.AttemptCount++
	issued := now.UTC()
	next.LastCodeIssuedAt = &issued
	next.UpdatedAt = issued
	return next, nil
}

// PlanConfirm returns the seat after the buyer reports the outcome of the
// current attempt, and the outcome the matching log entry must take.
func (s Seat) PlanConfirm(success bool, now time.Time) (Seat, Outcome, error) {
	if s.State.Terminal() {
		de := s.TerminalDenial()
		de.Kind = ErrConflict
		return s, "", de
	}
	if s.State == SeatUnclaimed || s.AttemptCount == 0 {
		return s, "", Deny(ErrConflict, "no code has been issued for this seat")
	}

	next := s
	if success {
		next.State = SeatSuccess
		next.UpdatedAt = now.UTC()
		return next, OutcomeSuccess, nil
	}
	if s.AttemptCount < MaxAttempts {
		return s, OutcomeFailure, nil
	}
	return s.PlanLock(LockReasonExhausted, now), OutcomeFailure, nil
}

// PlanLock returns the seat moved to the locked terminal state.
func (s Seat) PlanLock(reason string, now time.Time) Seat {
	at := now.UTC()
	next := s
	next.State = SeatLocked
	next.LockReason = reason
	next.LockedAt = &at
	next.UpdatedAt = at
	return next
}
