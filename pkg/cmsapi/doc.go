/*
Package cmsapi is the REST client for the Quill CMS identity API.

# Overview

The package exposes a single stateless Client. Every method issues one HTTP
request and maps the API's common response envelope onto Go values: success
payloads decode into typed results, failures become a typed *APIError
carrying the server's exact message, the HTTP status and a stable machine
code. Transport failures (DNS, refused connection, timeout) surface as
*NetworkError so callers can distinguish "the server said no" from "the
server is unreachable".

	client := cmsapi.New("https://cms.example.com/api")

	res, err := client.Login(ctx, cmsapi.Credentials{
		Identifier: "admin",
		Password:   "secret",
	})

The client holds no session state. Persisting tokens, refreshing them and
deciding who is logged in is the job of the session manager built on top of
this package.

# Error handling

	res, err := client.Login(ctx, creds)
	if cmsapi.IsNetworkError(err) {
		// offline, show a generic connectivity message
	}
	var apiErr *cmsapi.APIError
	if errors.As(err, &apiErr) {
		// apiErr.Message is the backend's validation text, verbatim
	}
*/
package cmsapi
