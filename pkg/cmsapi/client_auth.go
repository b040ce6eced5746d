package cmsapi

import (
	"context"
	"fmt"
	"net/http"
)

// Login exchanges credentials for a user and token pair.
// POST /users/auth/login
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/users/auth/login", creds, "")
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := decodeEnvelope(resp, &result); err != nil {
		return nil, withDefaultCode(err, CodeLoginError)
	}

	if result.User == nil || result.Tokens == nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeLoginError,
			Message:    "login response missing user or tokens",
		}
	}

	return &result, nil
}

// Logout notifies the server that the session is over. Callers treat this
// as best-effort: local session teardown must proceed whether or not the
// server acknowledged.
// POST /users/auth/logout
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/users/auth/logout", nil, accessToken)
	if err != nil {
		return err
	}

	if err := decodeEnvelope(resp, nil); err != nil {
		return withDefaultCode(err, CodeLogoutError)
	}
	return nil
}

// RefreshToken exchanges a refresh token for a fresh token pair. An empty
// refreshToken fails immediately with ErrNoRefreshToken, no request is made.
// POST /users/auth/refresh-token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/users/auth/refresh-token",
		refreshRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return nil, err
	}

	var payload tokensPayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, withDefaultCode(err, CodeRefreshError)
	}

	if payload.Tokens == nil || payload.Tokens.AccessToken == "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeRefreshError,
			Message:    "refresh response missing tokens",
		}
	}

	return payload.Tokens, nil
}

// VerifyToken asks the server whether the access token is still good and
// returns the identity it belongs to.
// GET /users/auth/verify
func (c *Client) VerifyToken(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/users/auth/verify", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var payload userPayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, withDefaultCode(err, CodeVerifyError)
	}

	if payload.User == nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeVerifyError,
			Message:    "verify response missing user",
		}
	}

	return payload.User, nil
}

// ChangePassword rotates the authenticated user's password. Server-side
// validation messages (wrong current password, weak new password) surface
// verbatim in the returned error.
// POST /users/auth/change-password
func (c *Client) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return fmt.Errorf("cmsapi: current and new password are required")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/users/auth/change-password",
		changePasswordRequest{
			CurrentPassword: currentPassword,
			NewPassword:     newPassword,
		}, accessToken)
	if err != nil {
		return err
	}

	if err := decodeEnvelope(resp, nil); err != nil {
		return withDefaultCode(err, CodePasswordError)
	}
	return nil
}
