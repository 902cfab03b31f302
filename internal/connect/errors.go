package connect

import (
	"errors"
	"strings"
)

// ErrChallengeRequired is returned by Login when the service accepted the
// credentials but requires a one-time MFA code to complete the login.
// It is an expected condition, not a failure: the caller resolves a code
// and calls ResumeLogin.
var ErrChallengeRequired = errors.New("mfa challenge required")

// ErrRateLimited is returned when the service throttles login attempts.
// Retrying immediately will not help and may extend the lockout.
var ErrRateLimited = errors.New("rate limited by upstream service")

// IsRateLimited reports whether err indicates upstream throttling.
// Besides the wrapped sentinel, it matches a "429" marker in the error
// text because the upstream client library stringifies HTTP status codes
// into its errors.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	return strings.Contains(err.Error(), "429")
}
