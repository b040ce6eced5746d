// Package app wires the admin client together: configuration, logging,
// the session store, the API client and the session manager, plus the
// quillctl subcommands that drive them.
package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/quillpress/quillctl/internal/session"
	"github.com/quillpress/quillctl/internal/session/store"
	"github.com/quillpress/quillctl/internal/session/store/drivers/memory"
	"github.com/quillpress/quillctl/internal/session/store/drivers/sqlite"
	"github.com/quillpress/quillctl/pkg/cmsapi"
	"github.com/quillpress/quillctl/pkg/cryptox"
	"github.com/quillpress/quillctl/pkg/rbac"
	"github.com/quillpress/quillctl/pkg/slogx"
	"github.com/quillpress/quillctl/pkg/tokenx"
)

const version = "0.3.0"

type App struct {
	cfg     Config
	logger  *slog.Logger
	store   store.Store
	api     *cmsapi.Client
	session *session.Manager

	stdin  io.Reader
	stdout io.Writer
}

func New(cfg Config) (*App, error) {
	logger := slogx.New(slogx.Config{
		Service: "quillctl",
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	apiOpts := []cmsapi.Option{
		cmsapi.WithTimeout(cfg.HTTPTimeout),
		cmsapi.WithLogger(logger),
	}
	if cfg.RateLimit > 0 {
		apiOpts = append(apiOpts, cmsapi.WithRateLimit(rate.Limit(cfg.RateLimit), 1))
	}
	api := cmsapi.New(cfg.APIBaseURL, apiOpts...)

	mgr := session.NewManager(api, st,
		session.WithLogger(logger),
		session.WithAutoRefresh(cfg.RefreshInterval),
	)

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		api:     api,
		session: mgr,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}, nil
}

func openStore(cfg Config, logger *slog.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return memory.NewStore(), nil
	}

	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "session.db")
	st, err := sqlite.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to migrate session store: %w", err)
	}

	logger.Debug("session store ready", "driver", "sqlite", "path", dbPath)
	return st, nil
}

func (a *App) Close() {
	a.session.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close session store", "error", err)
	}
}

// Run dispatches one subcommand and returns when it finishes.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printUsage()
		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.cmdLogout(ctx)
	case "whoami":
		return a.cmdWhoami(ctx, rest)
	case "refresh":
		return a.cmdRefresh(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "passwd":
		return a.cmdPasswd(ctx)
	case "version":
		fmt.Fprintf(a.stdout, "quillctl %s\n", version)
		return nil
	case "help", "-h", "--help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) printUsage() {
	fmt.Fprint(a.stdout, `Usage: quillctl <command> [flags]

Commands:
  login     Sign in and persist the session
  logout    End the session locally and on the server
  whoami    Show the signed-in user (--remote re-checks with the server)
  refresh   Force a token refresh
  status    Show session and token state
  passwd    Change the account password
  version   Print the client version
`)
}

func (a *App) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	identifier := fs.String("user", "", "username or email")
	password := fs.String("password", "", "password (prompted when omitted)")
	remember := fs.Bool("remember", false, "keep the session across restarts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *identifier == "" {
		v, err := a.promptLine("Username or email: ")
		if err != nil {
			return err
		}
		*identifier = v
	}
	if *password == "" {
		v, err := a.promptPassword("Password: ")
		if err != nil {
			return err
		}
		*password = v
	}

	if err := a.session.Login(ctx, *identifier, *password, *remember); err != nil {
		return fmt.Errorf("login failed: %s", a.session.Snapshot().Err)
	}

	snap := a.session.Snapshot()
	fmt.Fprintf(a.stdout, "Signed in as %s (%s)\n", snap.User.FullName(), snap.User.Role)
	return nil
}

func (a *App) cmdLogout(ctx context.Context) error {
	a.session.Bootstrap(ctx)
	a.session.Logout(ctx)
	fmt.Fprintln(a.stdout, "Signed out.")
	return nil
}

func (a *App) cmdWhoami(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	remote := fs.Bool("remote", false, "confirm the session with the server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	snap := a.session.Bootstrap(ctx)
	if !snap.Authenticated {
		return errors.New("not signed in")
	}

	user := snap.User
	if *remote {
		verified, err := a.session.Verify(ctx)
		if err != nil {
			return fmt.Errorf("failed to verify session: %w", err)
		}
		user = verified
	}

	fmt.Fprintf(a.stdout, "%s\n", user.Username)
	if name := user.FullName(); name != user.Username {
		fmt.Fprintf(a.stdout, "  name:  %s\n", name)
	}
	if user.Email != "" {
		fmt.Fprintf(a.stdout, "  email: %s\n", user.Email)
	}
	fmt.Fprintf(a.stdout, "  role:  %s\n", user.Role)
	if perms := rbac.Permissions(rbac.Role(user.Role)); len(perms) > 0 {
		strs := make([]string, len(perms))
		for i, p := range perms {
			strs[i] = string(p)
		}
		fmt.Fprintf(a.stdout, "  can:   %s\n", strings.Join(strs, ", "))
	}
	return nil
}

func (a *App) cmdRefresh(ctx context.Context) error {
	snap := a.session.Bootstrap(ctx)
	if !snap.Authenticated {
		return errors.New("not signed in")
	}

	if err := a.session.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	exp := tokenx.ExpiresAt(a.session.Snapshot().Tokens.AccessToken)
	fmt.Fprintf(a.stdout, "Session refreshed, access token valid until %s\n",
		exp.Local().Format(time.RFC1123))
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	snap := a.session.Bootstrap(ctx)
	if !snap.Authenticated {
		fmt.Fprintln(a.stdout, "Status: signed out")
		return nil
	}

	fmt.Fprintln(a.stdout, "Status: signed in")
	fmt.Fprintf(a.stdout, "  user:  %s (%s)\n", snap.User.Username, snap.User.Role)
	fmt.Fprintf(a.stdout, "  store: %s\n", a.cfg.StoreDriver)

	exp := tokenx.ExpiresAt(snap.Tokens.AccessToken)
	if exp.IsZero() {
		fmt.Fprintln(a.stdout, "  token: no expiry claim")
		return nil
	}
	if remaining := time.Until(exp); remaining > 0 {
		fmt.Fprintf(a.stdout, "  token: valid for %s\n", remaining.Round(time.Second))
	} else {
		fmt.Fprintln(a.stdout, "  token: expired (will refresh on next use)")
	}
	return nil
}

func (a *App) cmdPasswd(ctx context.Context) error {
	snap := a.session.Bootstrap(ctx)
	if !snap.Authenticated {
		return errors.New("not signed in")
	}

	current, err := a.promptPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := a.promptPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := a.promptPassword("Repeat new password: ")
	if err != nil {
		return err
	}
	if next != confirm {
		return errors.New("passwords do not match")
	}

	if err := a.session.ChangePassword(ctx, current, next); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	fmt.Fprintln(a.stdout, "Password changed.")
	return nil
}

func (a *App) promptLine(prompt string) (string, error) {
	fmt.Fprint(a.stdout, prompt)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo when stdin is a terminal and falls
// back to a plain line read otherwise, which keeps piped input working.
func (a *App) promptPassword(prompt string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stdout, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stdout)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return a.promptLine(prompt)
}
