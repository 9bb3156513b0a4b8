package domain

import "time"

// Outcome is the resolution of one issuance attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Resolution notes for entries closed without an explicit buyer report.
const (
	NoteSuperseded = "superseded by next attempt"
	NoteAbandoned  = "abandoned before lock"
)

// RequesterMeta identifies where an issuance request came from.
type RequesterMeta struct {
	RemoteIP  string
	UserAgent string
}

// IssuanceLogEntry is one append-only audit record per issuance attempt.
// PK: seat_id, SK: attempt_number.
type IssuanceLogEntry struct {
	SeatID         string     `json:"seat_id" dynamodbav:"seat_id"`
	AttemptNumber  int        `json:"attempt_number" dynamodbav:"attempt_number"`
	EntryID        string     `json:"id" dynamodbav:"entry_id"`
	BuyerID        string     `json:"buyer_id" dynamodbav:"buyer_id"`
	OrderItemID    string     `json:"order_item_id" dynamodbav:"order_item_id"`
	RemoteIP       string     `json:"remote_ip" dynamodbav:"remote_ip"`
	UserAgent      string     `json:"user_agent" dynamodbav:"user_agent"`
	Outcome        Outcome    `json:"outcome" dynamodbav:"outcome"`
	IssuedAt       time.Time  `json:"issued_at" dynamodbav:"issued_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" dynamodbav:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty" dynamodbav:"resolution_note,omitempty"`
}

// Resolve returns the entry moved to a terminal outcome.
func (e IssuanceLogEntry) Resolve(outcome Outcome, at time.Time, note string) IssuanceLogEntry {
	t := at.UTC()
	e.Outcome = outcome
	e.ResolvedAt = &t
	e.ResolutionNote = note
	return e
}
