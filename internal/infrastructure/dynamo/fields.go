package dynamo

// DynamoDB attribute names used in key, condition and update expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldSeatID         = "seat_id"
	fieldOrderItemID    = "order_item_id"
	fieldState          = "state"
	fieldAttemptCount   = "attempt_count"
	fieldAttemptNumber  = "attempt_number"
	fieldOutcome        = "outcome"
	fieldResolvedAt     = "resolved_at"
	fieldResolutionNote = "resolution_note"
	fieldCredentialID   = "credential_id"
)

const indexOrderItem = "order_item_id-index"
