// Package store defines durable persistence for the admin client's session.
// Concrete drivers (sqlite, memory) implement Store; the session manager
// only ever talks to the interface, so the persistence mechanism can be
// swapped per platform without touching the state machine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quillpress/quillctl/pkg/cmsapi"
)

// ErrNoSession is returned by Get when nothing is stored, or when the
// stored record can no longer be decoded. Callers treat both the same way:
// there is no session, start unauthenticated.
var ErrNoSession = errors.New("store: no session")

// Record is the durable projection of a session: the cached user, the
// current token pair and the remember-me flag.
type Record struct {
	User         *cmsapi.User
	AccessToken  string
	RefreshToken string
	RememberMe   bool
	UpdatedAt    time.Time
}

// Store persists at most one session record.
type Store interface {
	// Get returns the stored record or ErrNoSession. Corruption of the
	// stored data reads as ErrNoSession rather than an error: a broken
	// record must never crash session bootstrap.
	Get(ctx context.Context) (*Record, error)

	// Set replaces the stored record as a whole. There is no partial
	// write, so the stored user and tokens can never disagree.
	Set(ctx context.Context, rec Record) error

	// Clear removes any stored session. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}
