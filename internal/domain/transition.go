package domain

import "time"

// SeatTransition is everything one access operation changes, applied by a
// store as a single conditional write. The write must fail with ErrStaleWrite
// unless the persisted seat still has Prev's state and attempt count, Append
// does not exist yet, and every entry in Resolve is still pending.
type SeatTransition struct {
	Prev    Seat
	Next    Seat
	Append  *IssuanceLogEntry
	Resolve []IssuanceLogEntry
}

// SeatChanged reports whether Next differs from Prev in any persisted field.
func (t SeatTransition) SeatChanged() bool {
	p, n := t.Prev, t.Next
	return p.State != n.State ||
		p.AttemptCount != n.AttemptCount ||
		!sameTime(p.LastCodeIssuedAt, n.LastCodeIssuedAt) ||
		p.LockReason != n.LockReason ||
		!sameTime(p.LockedAt, n.LockedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
