// Package passcode derives the time-step one-time passcodes handed to seat
// holders and the timing around them. Codes follow RFC 6238 with a 30 second
// step and 6 digits so they match what the shared account's provider expects.
package passcode

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-seat-broker/internal/domain"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Step is the window within which a generated code stays constant.
const Step = 30 * time.Second

const stepSeconds = int64(Step / time.Second)

var opts = totp.ValidateOpts{
	Period:    uint(stepSeconds),
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Generate returns the code for the step containing t. secret is the base32
// seed of the shared credential. An empty or undecodable secret yields an
// error wrapping domain.ErrConfiguration.
func Generate(secret string, t time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("empty passcode secret: %w", domain.ErrConfiguration)
	}
	code, err := totp.GenerateCodeCustom(secret, t.UTC(), opts)
	if err != nil {
		return "", fmt.Errorf("generate passcode: %v: %w", err, domain.ErrConfiguration)
	}
	return code, nil
}

// StepIndex is the number of whole steps elapsed since the Unix epoch.
func StepIndex(t time.Time) int64 {
	return floorDiv(t.Unix(), stepSeconds)
}

// NextChange returns the instant the code valid at t is replaced.
func NextChange(t time.Time) time.Time {
	return time.Unix((StepIndex(t)+1)*stepSeconds, 0).UTC()
}

// ExpiresIn is the whole number of seconds the code valid at t remains valid,
// in the range 1..30.
func ExpiresIn(t time.Time) int {
	return int(stepSeconds - position(t))
}

func position(t time.Time) int64 {
	return t.Unix() - StepIndex(t)*stepSeconds
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
