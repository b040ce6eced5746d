// Package tokenx decodes CMS bearer tokens on the client side.
//
// Decoding is deliberately unverified: the client never holds the signing
// key and treats the payload as advisory only, the server remains the sole
// authority on token validity. Expiry checks are fail-closed, a token that
// cannot be decoded is reported as expired so a corrupt or foreign token
// never extends a session.
package tokenx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed reports a token whose payload could not be decoded.
var ErrMalformed = errors.New("tokenx: malformed token")

// Payload is the decoded, unverified claim set of a CMS access token.
type Payload struct {
	jwt.RegisteredClaims

	UID      string `json:"uid,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// UserID returns the uid claim, falling back to the registered subject.
func (p *Payload) UserID() string {
	if p.UID != "" {
		return p.UID
	}
	return p.Subject
}

var parser = jwt.NewParser()

// Decode extracts the payload segment of a bearer token without verifying
// its signature. It returns ErrMalformed (never panics) on any input that
// is not a structurally valid JWT.
func Decode(token string) (*Payload, error) {
	payload := &Payload{}
	if _, _, err := parser.ParseUnverified(token, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return payload, nil
}

// IsExpired reports whether the token's exp claim has passed. Undecodable
// tokens and tokens without an exp claim count as expired.
func IsExpired(token string) bool {
	return IsExpiredAt(token, time.Now())
}

// IsExpiredAt is IsExpired against an explicit clock. A token whose exp
// equals now exactly is already expired.
func IsExpiredAt(token string, now time.Time) bool {
	payload, err := Decode(token)
	if err != nil {
		return true
	}
	if payload.ExpiresAt == nil {
		return true
	}
	return !now.Before(payload.ExpiresAt.Time)
}

// ExpiresAt returns the token's expiry, or the zero time when the token
// cannot be decoded or carries no exp claim.
func ExpiresAt(token string) time.Time {
	payload, err := Decode(token)
	if err != nil || payload.ExpiresAt == nil {
		return time.Time{}
	}
	return payload.ExpiresAt.Time
}
