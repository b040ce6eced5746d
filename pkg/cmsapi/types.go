package cmsapi

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// Identity Types
// ============================================================================

// User is the identity record owned by the backend. The client only ever
// holds a cached copy; it changes locally in response to login, verify and
// profile-update responses.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Role      string     `json:"role"`
	Avatar    string     `json:"avatar,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// RoleName satisfies rbac.Subject. Safe on a nil user.
func (u *User) RoleName() string {
	if u == nil {
		return ""
	}
	return u.Role
}

// FullName returns "First Last", falling back to the username.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// AuthTokens is the token pair issued by the identity API. Tokens are
// immutable values: a new pair always replaces the old pair as a whole.
type AuthTokens struct {
	// AccessToken is the short-lived JWT presented on authenticated requests.
	AccessToken string `json:"accessToken"`

	// RefreshToken is the longer-lived opaque credential used only to
	// obtain a new pair.
	RefreshToken string `json:"refreshToken"`

	// TokenType is typically "Bearer".
	TokenType string `json:"tokenType,omitempty"`

	// ExpiresIn is the access token lifetime in seconds, advisory; the
	// token's own exp claim is authoritative.
	ExpiresIn int `json:"expiresIn,omitempty"`
}

// ============================================================================
// Request / Response Types
// ============================================================================

// Credentials is the login request body.
type Credentials struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResult is the login success payload.
type LoginResult struct {
	User   *User       `json:"user"`
	Tokens *AuthTokens `json:"tokens"`
}

// ProfileUpdate is a partial user patch; nil fields are left untouched by
// the server.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// envelope mirrors the API's common response wrapper. Every endpoint
// returns {status, message, data}; status is "success" or "error".
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) failed() bool {
	return strings.EqualFold(e.Status, "error")
}

// userPayload wraps endpoints whose data is {user}.
type userPayload struct {
	User *User `json:"user"`
}

// tokensPayload wraps endpoints whose data is {tokens}.
type tokensPayload struct {
	Tokens *AuthTokens `json:"tokens"`
}
