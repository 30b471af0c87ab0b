// Package session owns authentication state against the tracking SDK.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OCAP2/fleetlink/internal/convert"
	"github.com/OCAP2/fleetlink/internal/sdk"
	"github.com/OCAP2/fleetlink/pkg/core"
)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// AuthError is a login or logout failure reported by the remote API.
// Message is the API's own text for Code.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (code %d): %s", e.Code, e.Message)
}

// Loader ensures the SDK is usable before any session call.
type Loader interface {
	EnsureLoaded(ctx context.Context) error
}

// SDK is the subset of the remote API the session needs.
type SDK interface {
	InitSession(baseURL string)
	LoginToken(ctx context.Context, token string) (sdk.RawUser, error)
	Logout(ctx context.Context) error
	CurrentUser() *sdk.RawUser
	ErrorText(code int) string
}

// LogoutResult describes what Logout did.
type LogoutResult struct {
	Performed bool
	Message   string
}

// Manager is the single logical session for one SDK instance.
type Manager struct {
	loader  Loader
	sdk     SDK
	baseURL string
	logger  *slog.Logger

	// serializes login/logout so at most one session is ever negotiated
	opMu sync.Mutex

	mu        sync.RWMutex
	state     core.SessionState
	user      *core.User
	lastErr   error
	listeners []func(core.SessionState)
}

// New creates a Manager in the Idle state.
func New(loader Loader, api SDK, baseURL string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		loader:  loader,
		sdk:     api,
		baseURL: baseURL,
		logger:  logger,
		state:   core.SessionIdle,
	}
}

// Login authenticates with token. If a user is already authenticated it is
// returned without another network call.
func (m *Manager) Login(ctx context.Context, token string) (core.User, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.loader.EnsureLoaded(ctx); err != nil {
		m.fail(err)
		return core.User{}, err
	}

	if u := m.CurrentUser(); u != nil {
		m.logger.Debug("Login skipped, already authenticated", "user", u.Name)
		if m.State() != core.SessionAuthenticated {
			m.setState(core.SessionAuthenticated, u, nil)
		}
		return *u, nil
	}
	if raw := m.sdk.CurrentUser(); raw != nil {
		u := convert.User(*raw)
		m.setState(core.SessionAuthenticated, &u, nil)
		return u, nil
	}

	m.setState(core.SessionAuthenticating, nil, nil)
	m.sdk.InitSession(m.baseURL)

	raw, err := m.sdk.LoginToken(ctx, token)
	if err != nil {
		err = m.resolve(err)
		m.fail(err)
		m.logger.Warn("Login failed", "error", err)
		return core.User{}, err
	}

	u := convert.User(raw)
	m.setState(core.SessionAuthenticated, &u, nil)
	m.logger.Info("Logged in", "user", u.Name, "userId", u.ID)
	return u, nil
}

// Logout terminates the remote session. With no authenticated user it does
// nothing and says so.
func (m *Manager) Logout(ctx context.Context) (LogoutResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	user := m.CurrentUser()
	if user == nil {
		if raw := m.sdk.CurrentUser(); raw != nil {
			u := convert.User(*raw)
			user = &u
		}
	}
	if user == nil {
		return LogoutResult{Performed: false, Message: "no user is logged in"}, nil
	}

	if err := m.sdk.Logout(ctx); err != nil {
		err = m.resolve(err)
		// the remote session is still alive, so the user stays for a retry
		m.setState(core.SessionError, user, err)
		m.logger.Warn("Logout failed", "error", err)
		return LogoutResult{}, err
	}

	m.setState(core.SessionIdle, nil, nil)
	m.logger.Info("Logged out")
	return LogoutResult{Performed: true, Message: "logged out"}, nil
}

// CurrentUser returns the authenticated user, or nil.
func (m *Manager) CurrentUser() *core.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// State returns the session state.
func (m *Manager) State() core.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the error that put the session into the Error state.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Authenticated reports whether a user is logged in.
func (m *Manager) Authenticated() bool {
	return m.State() == core.SessionAuthenticated
}

// OnChange registers fn to be called after every state transition.
func (m *Manager) OnChange(fn func(core.SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// resolve turns a vendor code error into an AuthError with the vendor's text.
func (m *Manager) resolve(err error) error {
	var codeErr *sdk.CodeError
	if errors.As(err, &codeErr) {
		return &AuthError{Code: codeErr.Code, Message: m.sdk.ErrorText(codeErr.Code)}
	}
	return err
}

func (m *Manager) fail(err error) {
	m.setState(core.SessionError, nil, err)
}

func (m *Manager) setState(state core.SessionState, user *core.User, err error) {
	m.mu.Lock()
	m.state = state
	m.user = user
	m.lastErr = err
	listeners := append([]func(core.SessionState){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
