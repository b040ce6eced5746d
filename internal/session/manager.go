// Package session owns the admin client's authentication state: who is
// logged in, the current token pair, and the transitions triggered by
// login, logout, refresh and the initial bootstrap check. The Manager is
// the single writer of both the in-memory snapshot and the durable store;
// everything else observes it via Snapshot and Subscribe.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/quillpress/quillctl/internal/session/store"
	"github.com/quillpress/quillctl/pkg/cmsapi"
	"github.com/quillpress/quillctl/pkg/tokenx"
)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Manager is the process-wide session state machine.
type Manager struct {
	api    *cmsapi.Client
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	// refreshMu makes token refresh single-flight within this process.
	// Across processes sharing the same store there is no coordination;
	// whole-record writes keep concurrent refreshes last-write-wins.
	refreshMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
	subs []func(Snapshot)

	refresher *Refresher
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithLogger sets the logger used for non-fatal session events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithAutoRefresh enables the background refresher at the given interval.
// The refresher runs only while the session is authenticated.
func WithAutoRefresh(interval time.Duration) Option {
	return func(m *Manager) {
		m.refresher = newRefresher(m, interval)
	}
}

// NewManager creates a Manager in the bootstrapping state (loading, no
// user). Call Bootstrap to resolve it.
func NewManager(api *cmsapi.Client, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		api:    api,
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
		snap:   Snapshot{Loading: true},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Subscribe registers fn to run after every state transition, on the
// goroutine that triggered it. The current snapshot is delivered
// immediately so late subscribers don't miss the present state.
func (m *Manager) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	snap := m.snap
	m.mu.Unlock()

	fn(snap)
}

// Close tears down the background refresher. The store stays open; its
// owner closes it.
func (m *Manager) Close() {
	if m.refresher != nil {
		m.refresher.Stop()
	}
}

// apply runs one transition: mutate the snapshot under the lock, then
// notify subscribers and adjust the refresher lifecycle outside it.
func (m *Manager) apply(mutate func(*Snapshot)) Snapshot {
	m.mu.Lock()
	wasAuth := m.snap.Authenticated
	mutate(&m.snap)
	snap := m.snap
	isAuth := m.snap.Authenticated
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}

	if m.refresher != nil {
		switch {
		case isAuth && !wasAuth:
			m.refresher.Start()
		case wasAuth && !isAuth:
			// signal, not Stop: this path can run on the refresher's own
			// goroutine after a failed background refresh.
			m.refresher.signal()
		}
	}

	return snap
}

// Bootstrap resolves the initial session state from the store. No stored
// session means unauthenticated; a stored, still-valid access token means
// authenticated with the cached user; an expired one gets a single refresh
// attempt that either restores the session or clears it.
func (m *Manager) Bootstrap(ctx context.Context) Snapshot {
	m.apply(func(s *Snapshot) {
		s.Loading = true
		s.Err = ""
	})

	rec, err := m.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoSession) {
			m.logger.Warn("session store unreadable, starting unauthenticated", "error", err)
		}
		return m.apply(toUnauthenticated(""))
	}

	if !tokenx.IsExpiredAt(rec.AccessToken, m.now()) {
		// Trust the cached user; the server re-validates the token on
		// first authenticated call anyway.
		return m.apply(func(s *Snapshot) {
			s.User = rec.User
			s.Tokens = &cmsapi.AuthTokens{
				AccessToken:  rec.AccessToken,
				RefreshToken: rec.RefreshToken,
			}
			s.Authenticated = true
			s.Loading = false
			s.Err = ""
		})
	}

	if err := m.Refresh(ctx); err != nil {
		m.logger.Info("stored session could not be refreshed", "error", err)
	}
	return m.Snapshot()
}

// Login exchanges credentials for a session. On success the session is
// persisted before the state flips to authenticated; on failure the state
// stays unauthenticated with the server's message in Err.
func (m *Manager) Login(ctx context.Context, identifier, password string, rememberMe bool) error {
	m.apply(func(s *Snapshot) {
		s.Loading = true
		s.Err = ""
	})

	res, err := m.api.Login(ctx, cmsapi.Credentials{
		Identifier: identifier,
		Password:   password,
		RememberMe: rememberMe,
	})
	if err != nil {
		msg := userMessage(err)
		m.apply(func(s *Snapshot) {
			s.User = nil
			s.Tokens = nil
			s.Authenticated = false
			s.Loading = false
			s.Err = msg
		})
		return err
	}

	m.persist(ctx, res.User, res.Tokens, rememberMe)

	m.apply(func(s *Snapshot) {
		s.User = res.User
		s.Tokens = res.Tokens
		s.Authenticated = true
		s.Loading = false
		s.Err = ""
	})

	return nil
}

// Logout ends the session. The server notification is best-effort; local
// state and storage are cleared no matter what, and calling Logout on an
// already-ended session is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	snap := m.Snapshot()
	if snap.Tokens != nil && snap.Tokens.AccessToken != "" {
		if err := m.api.Logout(ctx, snap.Tokens.AccessToken); err != nil {
			m.logger.Warn("logout notification failed, clearing session anyway", "error", err)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear session store", "error", err)
	}

	m.apply(toUnauthenticated(""))
}

// Refresh exchanges the stored refresh token for a new pair. Success
// rewrites the store with the new tokens while preserving the cached user
// and remember-me flag. Failure is terminal: the old access token cannot be
// assumed usable, so all local session state is cleared.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	rec, err := m.store.Get(ctx)
	if err != nil {
		m.apply(toUnauthenticated(""))
		return cmsapi.ErrNoRefreshToken
	}

	tokens, err := m.api.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		if cerr := m.store.Clear(ctx); cerr != nil {
			m.logger.Warn("failed to clear session store after refresh failure", "error", cerr)
		}
		m.apply(toUnauthenticated(""))
		return err
	}

	// The server may not rotate the refresh token.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = rec.RefreshToken
	}

	m.persist(ctx, rec.User, tokens, rec.RememberMe)

	m.apply(func(s *Snapshot) {
		s.User = rec.User
		s.Tokens = tokens
		s.Authenticated = true
		s.Loading = false
		s.Err = ""
	})

	return nil
}

// Verify asks the server to confirm the current access token and returns
// the identity it belongs to, refreshing the cached user on the way.
func (m *Manager) Verify(ctx context.Context) (*cmsapi.User, error) {
	token, err := m.accessToken()
	if err != nil {
		return nil, err
	}

	user, err := m.api.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}

	m.cacheUser(ctx, user)
	return user, nil
}

// Profile fetches the authenticated user's profile from the server.
func (m *Manager) Profile(ctx context.Context) (*cmsapi.User, error) {
	token, err := m.accessToken()
	if err != nil {
		return nil, err
	}

	user, err := m.api.GetProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	m.cacheUser(ctx, user)
	return user, nil
}

// UpdateProfile applies a partial profile patch and refreshes the cache
// with the server's view of the updated user.
func (m *Manager) UpdateProfile(ctx context.Context, patch cmsapi.ProfileUpdate) (*cmsapi.User, error) {
	token, err := m.accessToken()
	if err != nil {
		return nil, err
	}

	user, err := m.api.UpdateProfile(ctx, token, patch)
	if err != nil {
		return nil, err
	}

	m.cacheUser(ctx, user)
	return user, nil
}

// ChangePassword rotates the authenticated user's password.
func (m *Manager) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	token, err := m.accessToken()
	if err != nil {
		return err
	}
	return m.api.ChangePassword(ctx, token, currentPassword, newPassword)
}

func (m *Manager) accessToken() (string, error) {
	snap := m.Snapshot()
	if !snap.Authenticated || snap.Tokens == nil {
		return "", ErrNotAuthenticated
	}
	return snap.Tokens.AccessToken, nil
}

// persist writes the whole session record. A persistence failure is logged
// but does not fail the transition; the session then lives in memory only.
func (m *Manager) persist(ctx context.Context, user *cmsapi.User, tokens *cmsapi.AuthTokens, rememberMe bool) {
	err := m.store.Set(ctx, store.Record{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		RememberMe:   rememberMe,
		UpdatedAt:    m.now(),
	})
	if err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
}

// cacheUser updates the cached user after a profile or verify response,
// keeping the stored tokens and remember-me flag untouched.
func (m *Manager) cacheUser(ctx context.Context, user *cmsapi.User) {
	if rec, err := m.store.Get(ctx); err == nil {
		rec.User = user
		rec.UpdatedAt = m.now()
		if err := m.store.Set(ctx, *rec); err != nil {
			m.logger.Warn("failed to persist updated user", "error", err)
		}
	}

	m.apply(func(s *Snapshot) {
		if s.Authenticated {
			s.User = user
		}
	})
}

// userMessage maps an error onto the string shown near the login form.
func userMessage(err error) string {
	if cmsapi.IsNetworkError(err) {
		return "cannot reach server"
	}
	var apiErr *cmsapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
