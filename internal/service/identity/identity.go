package identity

import (
	"errors"
	"strings"
)

// ErrIdentityRequired is returned when no email can be resolved for a call.
var ErrIdentityRequired = errors.New("email is required")

// Session is the identity established at login.
type Session struct {
	Email      string `json:"email"`
	RLSEnabled bool   `json:"rls_enabled"`
}

// Validate rejects sessions that carry no email.
func (s Session) Validate() error {
	if strings.TrimSpace(s.Email) == "" {
		return ErrIdentityRequired
	}
	return nil
}

// Scope is the email a store connection must be scoped to, or "" when the
// session relies on explicit per-call emails.
func (s Session) Scope() string {
	if s.RLSEnabled {
		return s.Email
	}
	return ""
}

// Resolve picks the email a backend operation acts for. With RLS enabled the
// requested email is ignored and the session email always wins.
func Resolve(session Session, requested string) (string, error) {
	if session.RLSEnabled {
		if err := session.Validate(); err != nil {
			return "", err
		}
		return session.Email, nil
	}
	if requested == "" {
		return "", ErrIdentityRequired
	}
	return requested, nil
}
