// Package connect defines the boundary to the upstream Garmin Connect
// login service: the credential and session types, the login client
// interface, and the error conditions the orchestrator dispatches on.
package connect

import (
	"encoding/json"
	"time"
)

// Credentials holds the account identity and secret. They are supplied at
// process start from configuration and are never persisted.
type Credentials struct {
	Email    string
	Password string
}

// Missing reports whether either credential field is unset.
func (c Credentials) Missing() bool {
	return c.Email == "" || c.Password == ""
}

// Session is the serialized token bundle returned by a successful login.
// The token payloads are opaque to this program; they are stored and
// replayed verbatim. Downstream consumers treat a Session as a capability
// object: holding one grants authenticated API access.
type Session struct {
	// OAuth1 is the raw OAuth1 token document issued by the SSO exchange.
	OAuth1 json.RawMessage `json:"oauth1_token,omitempty"`

	// OAuth2 is the raw OAuth2 token document used for API calls.
	OAuth2 json.RawMessage `json:"oauth2_token,omitempty"`

	// CreatedAt is when this bundle was obtained. For loaded bundles it is
	// derived from the stored files' modification time.
	CreatedAt time.Time `json:"created_at"`
}

// Age returns how long ago the session was created, relative to now.
func (s *Session) Age(now time.Time) time.Duration {
	if s.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CreatedAt)
}
