package passcode

import "time"

// minUsableLife is the remaining validity below which issuing is deferred to
// the next step.
const minUsableLife = 15

// SecondsUntilFavorableWindow returns how long a caller should wait so that a
// code generated afterwards still has at least 15 seconds of life. It is 0
// when the current step is at position 0..15 and 30-position otherwise.
//
// The result is advisory. The server always derives codes from its own clock
// at the moment of issuance.
func SecondsUntilFavorableWindow(now time.Time) int {
	p := position(now)
	if p <= minUsableLife {
		return 0
	}
	return int(stepSeconds - p)
}
