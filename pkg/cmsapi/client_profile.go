package cmsapi

import (
	"context"
	"net/http"
)

// GetProfile fetches the authenticated user's profile.
// GET /users/profile
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/users/profile", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var payload userPayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, withDefaultCode(err, CodeProfileError)
	}

	if payload.User == nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeProfileError,
			Message:    "profile response missing user",
		}
	}

	return payload.User, nil
}

// UpdateProfile applies a partial patch to the authenticated user's profile
// and returns the updated record as the server sees it.
// PUT /users/profile
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, patch ProfileUpdate) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, "/users/profile", patch, accessToken)
	if err != nil {
		return nil, err
	}

	var payload userPayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, withDefaultCode(err, CodeProfileError)
	}

	if payload.User == nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       CodeProfileError,
			Message:    "profile response missing user",
		}
	}

	return payload.User, nil
}
