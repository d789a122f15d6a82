package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PaperDrop/internal/api"
	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/session"
	"github.com/dharsanguruparan/PaperDrop/internal/tokenstore"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	store   tokenstore.Backend
	client  *api.Client
	nav     *cliNavigator
	session *session.Manager
}

// newApp loads configuration and wires the session stack. m may be nil.
func newApp(cmd *cobra.Command, flags *rootFlags, m *metrics.Metrics) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.server != "" {
		cfg.API.BaseURL = flags.server
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx := cmd.Context()
	store, err := tokenstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	client, err := api.New(cfg.API.BaseURL, api.Options{
		Timeout:           cfg.API.Timeout,
		UploadTimeout:     cfg.API.UploadTimeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            logger,
		Metrics:           m,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	out := cmd.OutOrStdout()
	nav := newCLINavigator(cfg.Upload.Path, cfg.Session.LoginPath, cmd.ErrOrStderr())
	manager := session.NewManager(store, session.NewJWTValidator(), client, nav, &stderrNotifier{w: cmd.ErrOrStderr()}, session.Options{
		LoginPath:          cfg.Session.LoginPath,
		LandingPath:        cfg.Session.LandingPath,
		DebounceWindow:     cfg.Session.DebounceWindow,
		RevalidateInterval: cfg.Session.RevalidateInterval,
		Logger:             logger,
		Metrics:            m,
	})
	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		store:   store,
		client:  client,
		nav:     nav,
		session: manager,
	}, nil
}

func (a *app) Close() error {
	_ = a.session.Close()
	return a.store.Close()
}

// credential checks the session and returns the stored bearer credential.
func (a *app) credential(ctx context.Context) (string, error) {
	if state := a.session.CheckSession(ctx); state.Authenticated() {
		if cred, ok := a.session.Credential(); ok {
			return cred, nil
		}
	}
	return "", fmt.Errorf("not signed in: run `paperdrop login` first")
}

// cliNavigator maps session navigation onto terminal hints. A CLI has no
// views, so the current path is the command's own path.
type cliNavigator struct {
	mu        sync.Mutex
	current   string
	loginPath string
	w         io.Writer
}

func newCLINavigator(current, loginPath string, w io.Writer) *cliNavigator {
	return &cliNavigator{current: current, loginPath: loginPath, w: w}
}

func (n *cliNavigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *cliNavigator) Navigate(path string) {
	n.mu.Lock()
	n.current = path
	n.mu.Unlock()
	if path == n.loginPath {
		fmt.Fprintln(n.w, "Sign in with `paperdrop login`, then run the command again.")
		return
	}
	fmt.Fprintf(n.w, "Continue at %s\n", path)
}

// stderrNotifier prints session notices.
type stderrNotifier struct {
	w io.Writer
}

func (s *stderrNotifier) Notify(n session.Notice) {
	fmt.Fprintf(s.w, "[%s] %s\n", n.Level, n.Message)
}
