package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quillctl/internal/session"
	"github.com/quillpress/quillctl/internal/session/store"
	"github.com/quillpress/quillctl/internal/session/store/drivers/memory"
	"github.com/quillpress/quillctl/pkg/cmsapi"
	"github.com/quillpress/quillctl/pkg/tokenx"
)

func signToken(t *testing.T, uid, username, role string, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &tokenx.Payload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UID:      uid,
		Username: username,
		Role:     role,
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, envStatus, message string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"status": envStatus, "message": message}
	if data != nil {
		body["data"] = data
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func testUser() *cmsapi.User {
	return &cmsapi.User{ID: "u_1", Username: "olya", Email: "olya@example.com", Role: "editor"}
}

func newManager(t *testing.T, handler http.Handler, opts ...session.Option) (*session.Manager, *memory.Store) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := cmsapi.New(srv.URL)
	st := memory.NewStore()
	m := session.NewManager(api, st, opts...)
	t.Cleanup(m.Close)
	return m, st
}

func TestBootstrapNoStoredSession(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))

	snap := m.Bootstrap(context.Background())
	require.False(t, snap.Authenticated)
	require.False(t, snap.Loading)
	require.Nil(t, snap.User)
	require.Nil(t, snap.Tokens)
	require.Empty(t, snap.Err)
}

func TestBootstrapValidTokenTrustsCache(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	m, st := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected while the access token is valid, got %s", r.URL.Path)
	}))

	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  access,
		RefreshToken: "rt_old",
		UpdatedAt:    time.Now(),
	}))

	snap := m.Bootstrap(context.Background())
	require.True(t, snap.Authenticated)
	require.False(t, snap.Loading)
	require.Equal(t, "olya", snap.User.Username)
	require.Equal(t, access, snap.Tokens.AccessToken)
	require.Equal(t, "rt_old", snap.Tokens.RefreshToken)
}

func TestBootstrapExpiredTokenRefreshesOnce(t *testing.T) {
	t.Parallel()

	expired := signToken(t, "u_1", "olya", "editor", time.Now().Add(-time.Minute))
	fresh := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	var refreshCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)

		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rt_old", req.RefreshToken)

		writeEnvelope(t, w, http.StatusOK, "success", "token refreshed", map[string]any{
			"tokens": cmsapi.AuthTokens{AccessToken: fresh, RefreshToken: "rt_new"},
		})
	})

	m, st := newManager(t, mux)

	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  expired,
		RefreshToken: "rt_old",
		RememberMe:   true,
		UpdatedAt:    time.Now(),
	}))

	snap := m.Bootstrap(context.Background())
	require.True(t, snap.Authenticated)
	require.Equal(t, int64(1), refreshCalls.Load())
	require.Equal(t, fresh, snap.Tokens.AccessToken)
	require.Equal(t, "rt_new", snap.Tokens.RefreshToken)
	require.Equal(t, "olya", snap.User.Username, "cached user survives the refresh")

	rec, err := st.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, fresh, rec.AccessToken)
	require.Equal(t, "rt_new", rec.RefreshToken)
	require.True(t, rec.RememberMe)
}

func TestBootstrapRefreshFailureClearsEverything(t *testing.T) {
	t.Parallel()

	expired := signToken(t, "u_1", "olya", "editor", time.Now().Add(-time.Minute))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusUnauthorized, "error", "Refresh token expired", nil)
	})

	m, st := newManager(t, mux)

	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  expired,
		RefreshToken: "rt_dead",
		UpdatedAt:    time.Now(),
	}))

	snap := m.Bootstrap(context.Background())
	require.False(t, snap.Authenticated)
	require.Nil(t, snap.User)
	require.Nil(t, snap.Tokens)

	_, err := st.Get(context.Background())
	require.ErrorIs(t, err, store.ErrNoSession)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	t.Run("success persists before flipping state", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("POST /users/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var creds cmsapi.Credentials
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			require.Equal(t, "olya", creds.Identifier)
			require.False(t, creds.RememberMe)

			writeEnvelope(t, w, http.StatusOK, "success", "logged in", cmsapi.LoginResult{
				User:   testUser(),
				Tokens: &cmsapi.AuthTokens{AccessToken: access, RefreshToken: "rt_1"},
			})
		})

		m, st := newManager(t, mux)

		require.NoError(t, m.Login(context.Background(), "olya", "hunter2", false))

		snap := m.Snapshot()
		require.True(t, snap.Authenticated)
		require.False(t, snap.Loading)
		require.Empty(t, snap.Err)
		require.Equal(t, "u_1", snap.User.ID)

		// remember-me only marks the record; tokens are stored either way.
		rec, err := st.Get(context.Background())
		require.NoError(t, err)
		require.False(t, rec.RememberMe)
		require.Equal(t, access, rec.AccessToken)
		require.Equal(t, "rt_1", rec.RefreshToken)
	})

	t.Run("wrong password surfaces the server message", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("POST /users/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(t, w, http.StatusUnauthorized, "error", "Invalid credentials", nil)
		})

		m, st := newManager(t, mux)

		err := m.Login(context.Background(), "olya", "wrong", false)
		require.Error(t, err)

		snap := m.Snapshot()
		require.False(t, snap.Authenticated)
		require.False(t, snap.Loading)
		require.Equal(t, "Invalid credentials", snap.Err)
		require.Nil(t, snap.User)

		_, gerr := st.Get(context.Background())
		require.ErrorIs(t, gerr, store.ErrNoSession)
	})

	t.Run("unreachable server reads as a network problem", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close() // connection refused from here on

		m := session.NewManager(cmsapi.New(srv.URL), memory.NewStore())
		t.Cleanup(m.Close)

		lerr := m.Login(context.Background(), "olya", "hunter2", false)
		require.True(t, cmsapi.IsNetworkError(lerr))
		require.Equal(t, "cannot reach server", m.Snapshot().Err)
	})
}

func TestLogoutIsIdempotentAndClientAuthoritative(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	var logoutCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutCalls.Add(1)
		require.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))

		// Server-side failure must not keep the session alive.
		writeEnvelope(t, w, http.StatusInternalServerError, "error", "session service down", nil)
	})

	m, st := newManager(t, mux)
	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  access,
		RefreshToken: "rt_1",
		UpdatedAt:    time.Now(),
	}))
	m.Bootstrap(context.Background())
	require.True(t, m.Snapshot().Authenticated)

	m.Logout(context.Background())

	snap := m.Snapshot()
	require.False(t, snap.Authenticated)
	require.Nil(t, snap.Tokens)
	require.Empty(t, snap.Err)
	_, err := st.Get(context.Background())
	require.ErrorIs(t, err, store.ErrNoSession)
	require.Equal(t, int64(1), logoutCalls.Load())

	// Second logout has no token to present, so no further server call.
	m.Logout(context.Background())
	require.Equal(t, int64(1), logoutCalls.Load())
	require.False(t, m.Snapshot().Authenticated)
}

func TestRefreshWithoutStoredSession(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s", r.URL.Path)
	}))

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, cmsapi.ErrNoRefreshToken)
	require.False(t, m.Snapshot().Authenticated)
}

func TestRefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	t.Parallel()

	fresh := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, "success", "ok", map[string]any{
			"tokens": cmsapi.AuthTokens{AccessToken: fresh},
		})
	})

	m, st := newManager(t, mux)
	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  "stale",
		RefreshToken: "rt_keep",
		UpdatedAt:    time.Now(),
	}))

	require.NoError(t, m.Refresh(context.Background()))

	snap := m.Snapshot()
	require.Equal(t, "rt_keep", snap.Tokens.RefreshToken)

	rec, err := st.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rt_keep", rec.RefreshToken)
}

func TestSubscribeDeliversCurrentAndTransitions(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, "success", "logged in", cmsapi.LoginResult{
			User:   testUser(),
			Tokens: &cmsapi.AuthTokens{AccessToken: access, RefreshToken: "rt_1"},
		})
	})

	m, _ := newManager(t, mux)

	var seen []session.Snapshot
	m.Subscribe(func(s session.Snapshot) { seen = append(seen, s) })

	require.Len(t, seen, 1, "current state is delivered immediately")
	require.True(t, seen[0].Loading)

	require.NoError(t, m.Login(context.Background(), "olya", "hunter2", false))

	// Login applies two transitions: loading, then authenticated.
	require.Len(t, seen, 3)
	require.True(t, seen[1].Loading)
	require.True(t, seen[2].Authenticated)
}

func TestVerifyRefreshesCachedUser(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))
	renamed := testUser()
	renamed.FirstName = "Olya"
	renamed.LastName = "Petrova"

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))
		writeEnvelope(t, w, http.StatusOK, "success", "ok", map[string]any{"user": renamed})
	})

	m, st := newManager(t, mux)
	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  access,
		RefreshToken: "rt_1",
		UpdatedAt:    time.Now(),
	}))
	m.Bootstrap(context.Background())

	user, err := m.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Olya Petrova", user.FullName())

	require.Equal(t, "Olya", m.Snapshot().User.FirstName)
	rec, err := st.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Petrova", rec.User.LastName)
	require.Equal(t, "rt_1", rec.RefreshToken, "tokens untouched by a user cache update")
}

func TestUpdateProfilePatchesCache(t *testing.T) {
	t.Parallel()

	access := signToken(t, "u_1", "olya", "editor", time.Now().Add(time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /users/profile", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		require.Equal(t, map[string]any{"firstName": "Olya"}, patch)

		updated := testUser()
		updated.FirstName = "Olya"
		writeEnvelope(t, w, http.StatusOK, "success", "updated", map[string]any{"user": updated})
	})

	m, st := newManager(t, mux)
	require.NoError(t, st.Set(context.Background(), store.Record{
		User:         testUser(),
		AccessToken:  access,
		RefreshToken: "rt_1",
		UpdatedAt:    time.Now(),
	}))
	m.Bootstrap(context.Background())

	first := "Olya"
	user, err := m.UpdateProfile(context.Background(), cmsapi.ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	require.Equal(t, "Olya", user.FirstName)
	require.Equal(t, "Olya", m.Snapshot().User.FirstName)
}

func TestAuthenticatedOperationsRequireSession(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s", r.URL.Path)
	}))
	m.Bootstrap(context.Background())

	_, err := m.Verify(context.Background())
	require.ErrorIs(t, err, session.ErrNotAuthenticated)

	_, err = m.Profile(context.Background())
	require.ErrorIs(t, err, session.ErrNotAuthenticated)

	err = m.ChangePassword(context.Background(), "old", "new")
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}
