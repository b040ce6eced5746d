// Package sqlite persists the session in a local SQLite database. Token
// columns are sealed with the cryptox master key so credentials never sit
// on disk in the clear.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/quillpress/quillctl/internal/session/store"
	"github.com/quillpress/quillctl/pkg/cmsapi"
	"github.com/quillpress/quillctl/pkg/cryptox"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Single-writer client; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context) (*store.Record, error) {
	var (
		sealedAccess  []byte
		sealedRefresh []byte
		userJSON      string
		rememberMe    int
		updatedAt     string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, user_json, remember_me, updated_at
		   FROM session WHERE id = 1`,
	).Scan(&sealedAccess, &sealedRefresh, &userJSON, &rememberMe, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	// Unreadable tokens (rotated master key, truncated row) and corrupt
	// user JSON all degrade to "no session" so bootstrap falls through to
	// unauthenticated instead of failing.
	accessToken, err := cryptox.Open(sealedAccess)
	if err != nil {
		return nil, store.ErrNoSession
	}
	refreshToken, err := cryptox.Open(sealedRefresh)
	if err != nil {
		return nil, store.ErrNoSession
	}

	var user cmsapi.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, store.ErrNoSession
	}
	if user.ID == "" {
		return nil, store.ErrNoSession
	}

	rec := &store.Record{
		User:         &user,
		AccessToken:  string(accessToken),
		RefreshToken: string(refreshToken),
		RememberMe:   rememberMe != 0,
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return rec, nil
}

func (s *Store) Set(ctx context.Context, rec store.Record) error {
	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return err
	}

	sealedAccess, err := cryptox.Seal([]byte(rec.AccessToken))
	if err != nil {
		return err
	}
	sealedRefresh, err := cryptox.Seal([]byte(rec.RefreshToken))
	if err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	rememberMe := 0
	if rec.RememberMe {
		rememberMe = 1
	}

	// Whole-record upsert; there is no path that writes a partial session.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (id, access_token, refresh_token, user_json, remember_me, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token  = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   user_json     = excluded.user_json,
		   remember_me   = excluded.remember_me,
		   updated_at    = excluded.updated_at`,
		sealedAccess, sealedRefresh, string(userJSON), rememberMe,
		updatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	return err
}
