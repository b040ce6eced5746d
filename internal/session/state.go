package session

import "github.com/quillpress/quillctl/pkg/cmsapi"

// Snapshot is the externally visible session state. Invariant: Authenticated
// is true iff both User and Tokens are non-nil; Loading is true only during
// the initial bootstrap check or an in-flight login/refresh. Consumers must
// treat a Snapshot as read-only.
type Snapshot struct {
	User          *cmsapi.User
	Tokens        *cmsapi.AuthTokens
	Authenticated bool
	Loading       bool

	// Err carries the server's message for the last failed login or
	// refresh; empty once a transition succeeds.
	Err string
}

func toUnauthenticated(msg string) func(*Snapshot) {
	return func(s *Snapshot) {
		s.User = nil
		s.Tokens = nil
		s.Authenticated = false
		s.Loading = false
		s.Err = msg
	}
}
