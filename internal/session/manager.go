// Package session owns the client's authentication lifecycle: it validates
// the stored credential, performs login and logout, remembers where the user
// was headed when a login detour started, and keeps the session state fresh
// across every client sharing the same token store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/tokenstore"
)

const bearerPrefix = "Bearer "

var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("session: manager closed")
	// ErrSuperseded is returned by a Login overtaken by a later Login or Logout.
	ErrSuperseded = errors.New("session: login superseded")
)

// Navigator moves the user between views.
type Navigator interface {
	Current() string
	Navigate(path string)
}

// Level classifies a user-visible notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient message shown to the user.
type Notice struct {
	Level   Level
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Authenticator exchanges a username and password for a raw token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Credentials is the input of Login. When Token is set it is used as is and
// no network exchange happens.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	LoginPath          string
	LandingPath        string
	DebounceWindow     time.Duration
	RevalidateInterval time.Duration
	// Now overrides the clock used for expiry and debouncing.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.LandingPath == "" {
		o.LandingPath = "/"
	}
	if o.DebounceWindow == 0 {
		o.DebounceWindow = time.Second
	}
	if o.RevalidateInterval <= 0 {
		o.RevalidateInterval = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager is the single owner of session state for one client instance.
type Manager struct {
	token     *tokenstore.Slot
	redirect  *tokenstore.Slot
	validator Validator
	auth      Authenticator
	nav       Navigator
	notifier  Notifier
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// checkMu serializes everything that reads the store and mutates state.
	checkMu sync.Mutex
	// navMu serializes navigation decisions.
	navMu sync.Mutex

	mu         sync.RWMutex
	state      model.SessionState
	credential string
	claims     *Claims
	generation uint64
	closed     bool

	events  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewManager wires a Manager. backend holds both the credential and the
// redirect intent.
func NewManager(backend tokenstore.Backend, validator Validator, auth Authenticator, nav Navigator, notifier Notifier, opts Options) *Manager {
	opts.setDefaults()
	if validator == nil {
		validator = NewJWTValidator()
	}
	return &Manager{
		token:     tokenstore.NewSlot(backend, tokenstore.TokenKey),
		redirect:  tokenstore.NewSlot(backend, tokenstore.RedirectKey),
		validator: validator,
		auth:      auth,
		nav:       nav,
		notifier:  notifier,
		opts:      opts,
		logger:    opts.Logger.With("component", "session"),
		metrics:   opts.Metrics,
		state:     model.SessionState{Status: model.SessionUnknown},
		events:    make(chan struct{}, 1),
	}
}

// State returns a snapshot of the session state.
func (m *Manager) State() model.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Credential returns the stored bearer credential while authenticated.
func (m *Manager) Credential() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.state.Authenticated() || m.credential == "" {
		return "", false
	}
	return m.credential, true
}

// Claims returns the decoded claims of the current credential, or nil.
func (m *Manager) Claims() *Claims {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.claims == nil {
		return nil
	}
	c := *m.claims
	return &c
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// apply sets the state unless the manager was closed after gen was taken.
func (m *Manager) apply(gen uint64, status model.SessionStatus, credential string, claims *Claims, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.generation != gen {
		return false
	}
	m.state = model.SessionState{
		Status:        status,
		TokenPresent:  credential != "",
		LastCheckedAt: at,
	}
	m.credential = credential
	m.claims = claims
	m.metrics.SetAuthenticated(status == model.SessionAuthenticated)
	return true
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// bump invalidates every operation that captured an older generation.
func (m *Manager) bump() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	return m.generation
}

func (m *Manager) notify(level Level, msg string) {
	if m.notifier != nil {
		m.notifier.Notify(Notice{Level: level, Message: msg})
	}
}

// CheckSession validates the stored credential and updates the state. A call
// made within DebounceWindow of the previous check returns the cached state
// without touching the store. Concurrent calls are serialized and observe the
// same state.
func (m *Manager) CheckSession(ctx context.Context) model.SessionState {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	if m.isClosed() {
		return m.State()
	}

	now := m.opts.Now()
	current := m.State()
	if !current.LastCheckedAt.IsZero() && now.Sub(current.LastCheckedAt) < m.opts.DebounceWindow {
		return current
	}

	gen := m.currentGeneration()
	value, present, err := m.token.Get(ctx)
	if err != nil {
		m.logger.Warn("Failed to read stored credential", "error", err)
		m.metrics.SessionChecked("store_error")
		return current
	}
	if !present || value == "" {
		m.metrics.SessionChecked("absent")
		m.apply(gen, model.SessionUnauthenticated, "", nil, now)
		return m.State()
	}

	validity := m.validator.Validate(value, now)
	m.metrics.SessionChecked(string(validity))
	if validity == Valid {
		claims, err := m.validator.DecodeClaims(value)
		if err != nil {
			m.logger.Debug("Claims unavailable for valid token", "error", err)
		}
		m.apply(gen, model.SessionAuthenticated, value, claims, now)
		return m.State()
	}

	m.logger.Info("Stored credential rejected", "validity", validity)
	if err := m.token.Clear(ctx); err != nil {
		m.logger.Warn("Failed to clear rejected credential", "error", err)
	}
	if m.apply(gen, model.SessionUnauthenticated, "", nil, now) {
		m.notify(LevelWarning, "Your session has expired. Please sign in again.")
	}
	return m.State()
}

// Login replaces any stored credential with a new one. The token is obtained
// from the Authenticator unless creds.Token is set. On success the pending
// redirect intent, or LandingPath, is consumed and navigated to exactly once.
// On failure the session is left unauthenticated with no credential stored.
func (m *Manager) Login(ctx context.Context, creds Credentials) (model.SessionState, error) {
	if m.isClosed() {
		return m.State(), ErrClosed
	}

	m.checkMu.Lock()
	gen := m.bump()
	if err := m.token.Clear(ctx); err != nil {
		m.logger.Warn("Failed to clear previous credential", "error", err)
	}
	m.apply(gen, model.SessionUnauthenticated, "", nil, m.opts.Now())
	m.checkMu.Unlock()

	raw, err := m.obtainToken(ctx, creds)
	if err != nil {
		return m.loginFailed(gen, err)
	}

	m.checkMu.Lock()
	if m.isClosed() {
		m.checkMu.Unlock()
		return m.State(), ErrClosed
	}
	if m.currentGeneration() != gen {
		m.checkMu.Unlock()
		return m.State(), ErrSuperseded
	}
	credential := bearerPrefix + stripBearer(raw)
	now := m.opts.Now()
	if v := m.validator.Validate(credential, now); v != Valid {
		m.checkMu.Unlock()
		return m.loginFailed(gen, apperror.NewMalformedResponse(
			fmt.Sprintf("the server returned an unusable token (%s)", v), nil))
	}
	if err := m.token.Set(ctx, credential); err != nil {
		m.checkMu.Unlock()
		return m.loginFailed(gen, apperror.NewInternal(fmt.Errorf("storing credential: %w", err)))
	}
	claims, _ := m.validator.DecodeClaims(credential)
	m.apply(gen, model.SessionAuthenticated, credential, claims, now)
	m.checkMu.Unlock()

	m.logger.Info("Signed in", "subject", subjectOf(claims))
	m.navigateAfterLogin(ctx)
	return m.State(), nil
}

func (m *Manager) obtainToken(ctx context.Context, creds Credentials) (string, error) {
	if strings.TrimSpace(creds.Token) != "" {
		return creds.Token, nil
	}
	if creds.Username == "" || creds.Password == "" {
		return "", apperror.NewValidation("username and password are required")
	}
	if m.auth == nil {
		return "", apperror.NewInternal(errors.New("no authenticator configured"))
	}
	return m.auth.Login(ctx, creds.Username, creds.Password)
}

func (m *Manager) loginFailed(gen uint64, err error) (model.SessionState, error) {
	m.checkMu.Lock()
	if m.currentGeneration() == gen {
		m.apply(gen, model.SessionUnauthenticated, "", nil, m.opts.Now())
	}
	m.checkMu.Unlock()

	m.logger.Info("Sign-in failed", "error", err)
	m.notify(LevelError, apperror.SafeMessage(err))
	return m.State(), err
}

func (m *Manager) navigateAfterLogin(ctx context.Context) {
	m.navMu.Lock()
	defer m.navMu.Unlock()

	target := m.opts.LandingPath
	value, present, err := m.redirect.Get(ctx)
	if err != nil {
		m.logger.Warn("Failed to read redirect intent", "error", err)
	} else if present && m.usableTarget(value) {
		target = value
	}
	if present {
		if err := m.redirect.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear redirect intent", "error", err)
		}
	}
	m.nav.Navigate(target)
}

func (m *Manager) usableTarget(path string) bool {
	return strings.HasPrefix(path, "/") && path != m.opts.LoginPath
}

// Logout clears the credential and any redirect intent and returns to the
// login view.
func (m *Manager) Logout(ctx context.Context) error {
	m.checkMu.Lock()
	gen := m.bump()
	var errs []error
	if err := m.token.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clearing credential: %w", err))
	}
	if err := m.redirect.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clearing redirect intent: %w", err))
	}
	m.apply(gen, model.SessionUnauthenticated, "", nil, m.opts.Now())
	m.checkMu.Unlock()

	m.navMu.Lock()
	m.nav.Navigate(m.opts.LoginPath)
	m.navMu.Unlock()

	m.logger.Info("Signed out")
	return errors.Join(errs...)
}

// RedirectToLogin starts a login detour from fromPath, or from the current
// path when fromPath is empty. While a detour is in progress (the navigator
// is already on the login view) further calls are ignored, so the first
// caller's target is the one restored after login.
func (m *Manager) RedirectToLogin(ctx context.Context, fromPath string) error {
	m.navMu.Lock()
	defer m.navMu.Unlock()

	current := m.nav.Current()
	if current == m.opts.LoginPath {
		return nil
	}
	if fromPath == "" {
		fromPath = current
	}

	var err error
	if m.usableTarget(fromPath) {
		if err = m.redirect.Set(ctx, fromPath); err != nil {
			m.logger.Warn("Failed to persist redirect intent", "path", fromPath, "error", err)
			err = fmt.Errorf("persisting redirect intent: %w", err)
		}
	}
	m.logger.Debug("Redirecting to login", "from", fromPath)
	m.nav.Navigate(m.opts.LoginPath)
	return err
}

// Start launches the revalidation scheduler. It performs an immediate check,
// then re-checks on every RevalidateInterval tick and whenever another
// client changes the stored credential.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("session: manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	stop, err := m.token.OnExternalChange(runCtx, func(string, bool) {
		select {
		case m.events <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		close(m.done)
		return fmt.Errorf("watching token store: %w", err)
	}

	go m.run(runCtx, stop)
	return nil
}

func (m *Manager) run(ctx context.Context, stop func()) {
	defer close(m.done)
	defer stop()

	ticker := time.NewTicker(m.opts.RevalidateInterval)
	defer ticker.Stop()

	var trailing *time.Timer
	var trailingC <-chan time.Time
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()

	m.CheckSession(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			m.CheckSession(ctx)

		case <-m.events:
			wait := m.untilNextCheck()
			if wait <= 0 {
				m.CheckSession(ctx)
				continue
			}
			// Inside the debounce window: check once the window closes.
			if trailingC == nil {
				trailing = time.NewTimer(wait)
				trailingC = trailing.C
			}

		case <-trailingC:
			trailingC = nil
			if wait := m.untilNextCheck(); wait > 0 {
				trailing = time.NewTimer(wait)
				trailingC = trailing.C
				continue
			}
			m.CheckSession(ctx)
		}
	}
}

func (m *Manager) untilNextCheck() time.Duration {
	last := m.State().LastCheckedAt
	if last.IsZero() {
		return 0
	}
	return m.opts.DebounceWindow - m.opts.Now().Sub(last)
}

// Close stops the scheduler. Results of checks still in flight are
// discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.generation++
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func subjectOf(c *Claims) string {
	if c == nil {
		return ""
	}
	return c.Subject
}
