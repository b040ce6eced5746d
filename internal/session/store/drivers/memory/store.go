// Package memory is an in-process session store used by tests and by
// ephemeral profiles that should not leave tokens on disk.
package memory

import (
	"context"
	"sync"

	"github.com/quillpress/quillctl/internal/session/store"
)

type Store struct {
	mu  sync.Mutex
	rec *store.Record
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get(ctx context.Context) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return nil, store.ErrNoSession
	}

	cp := *s.rec
	if s.rec.User != nil {
		user := *s.rec.User
		cp.User = &user
	}
	return &cp, nil
}

func (s *Store) Set(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec
	if rec.User != nil {
		user := *rec.User
		cp.User = &user
	}
	s.rec = &cp
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec = nil
	return nil
}

func (s *Store) Close() error { return nil }
