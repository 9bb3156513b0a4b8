package access

import (
	"math"
	"time"
)

// MinIssueSpacing is the minimum time between two codes for the same seat.
const MinIssueSpacing = 30 * time.Second

// checkSpacing reports whether a new code may be issued at now given the last
// issuance. When it may not, wait is the whole seconds remaining, in 1..spacing.
func checkSpacing(last *time.Time, now time.Time, spacing time.Duration) (wait int, ok bool) {
	if last == nil {
		return 0, true
	}
	elapsed := now.Sub(*last)
	if elapsed >= spacing {
		return 0, true
	}
	maxWait := int(spacing / time.Second)
	wait = int(math.Ceil((spacing - elapsed).Seconds()))
	if wait < 1 {
		wait = 1
	}
	if wait > maxWait {
		// last is ahead of our clock; never ask for more than one full spacing.
		wait = maxWait
	}
	return wait, false
}
