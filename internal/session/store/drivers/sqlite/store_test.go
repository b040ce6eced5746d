package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/quillpress/quillctl/internal/session/store"
	"github.com/quillpress/quillctl/internal/session/store/drivers/sqlite"
	"github.com/quillpress/quillctl/pkg/cmsapi"
	"github.com/quillpress/quillctl/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()

	t.Setenv("QUILL_MASTER_KEY", "test-master-key")
	cryptox.ResetMasterKeyForTesting()
	t.Cleanup(cryptox.ResetMasterKeyForTesting)

	dsn := filepath.Join(t.TempDir(), "session.db")
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s, dsn
}

func TestRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx)
	require.ErrorIs(t, err, store.ErrNoSession)

	rec := store.Record{
		User: &cmsapi.User{
			ID:        "u_1",
			Username:  "admin",
			FirstName: "Ada",
			LastName:  "Quill",
			Role:      "admin",
		},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		RememberMe:   true,
	}
	require.NoError(t, s.Set(ctx, rec))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, rec.User, got.User)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.True(t, got.RememberMe)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestSetOverwritesPreviousSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_1", Role: "admin"},
		AccessToken: "access-1", RefreshToken: "refresh-1", RememberMe: true,
	}))
	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_2", Role: "author"},
		AccessToken: "access-2", RefreshToken: "refresh-2",
	}))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "u_2", got.User.ID)
	require.False(t, got.RememberMe)
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_1"},
		AccessToken: "a", RefreshToken: "r",
	}))
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))

	_, err := s.Get(ctx)
	require.ErrorIs(t, err, store.ErrNoSession)
}

func TestTokensAreSealedOnDisk(t *testing.T) {
	s, dsn := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_1"},
		AccessToken: "super-secret-access", RefreshToken: "super-secret-refresh",
	}))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var rawAccess []byte
	require.NoError(t, db.QueryRow(`SELECT access_token FROM session WHERE id = 1`).Scan(&rawAccess))
	require.NotContains(t, string(rawAccess), "super-secret-access")
}

func TestCorruptUserJSONReadsAsNoSession(t *testing.T) {
	s, dsn := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_1"},
		AccessToken: "a", RefreshToken: "r",
	}))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE session SET user_json = '{not json' WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.Get(ctx)
	require.ErrorIs(t, err, store.ErrNoSession)
}

func TestTamperedTokensReadAsNoSession(t *testing.T) {
	s, dsn := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.Record{
		User:        &cmsapi.User{ID: "u_1"},
		AccessToken: "a", RefreshToken: "r",
	}))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE session SET access_token = X'00112233' WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.Get(ctx)
	require.ErrorIs(t, err, store.ErrNoSession)
}
