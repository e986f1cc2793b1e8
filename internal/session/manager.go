// Package session owns the signed-in user's session: loading it at startup,
// validating and refreshing it, reacting to auth events, and the sign-in
// entry points that create it.
package session

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/domain"
)

// Auth state change events
const (
	SignedIn       = "SIGNED_IN"
	SignedOut      = "SIGNED_OUT"
	TokenRefreshed = "TOKEN_REFRESHED"
)

const (
	DefaultInitTimeout  = 5 * time.Second
	DefaultSyncRetries  = 2
	DefaultSyncInterval = 2 * time.Second
)

var (
	// ErrInitTimeout is returned by Initialize when the backend did not answer in time
	ErrInitTimeout = errors.New("session initialization timed out")
	// ErrNoSession is returned when an operation needs a signed-in user
	ErrNoSession = errors.New("no active session")
)

// AuthError is a sign-in failure with a message fit for display
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

// AdminPredicate decides whether a user may use admin surfaces
type AdminPredicate func(*domain.User) bool

// BackendAdmin trusts the is_admin flag issued by the backend
func BackendAdmin(u *domain.User) bool {
	return u != nil && u.IsAdmin
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Holder *Holder
	Store  Store
	// SyncUser records the signed-in identity in the user's own profile row
	SyncUser func(ctx context.Context) error
	IsAdmin  AdminPredicate
	// ClearUserData drops cached user-derived data; called on sign-out and reset.
	// It runs with the manager locked and must not call back into it.
	ClearUserData func()
	// Reload is called after a reset so the front end can start over.
	// Same locking rule as ClearUserData.
	Reload func()

	InitTimeout  time.Duration
	SyncRetries  int
	SyncInterval time.Duration
}

// Manager maintains the authoritative session
type Manager struct {
	backend backend.Client
	holder  *Holder
	store   Store
	opts    Options

	mu      sync.Mutex
	loading bool

	syncs sync.WaitGroup
}

// initRun tracks one Initialize call so a result arriving after the cutoff is dropped
type initRun struct {
	abandoned bool
}

// NewManager creates a session manager over client
func NewManager(client backend.Client, opts Options) *Manager {
	if opts.Holder == nil {
		opts.Holder = NewHolder()
	}
	if opts.Store == nil {
		opts.Store = &MemoryStore{}
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = BackendAdmin
	}
	if opts.InitTimeout == 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.SyncRetries == 0 {
		opts.SyncRetries = DefaultSyncRetries
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	return &Manager{
		backend: client,
		holder:  opts.Holder,
		store:   opts.Store,
		opts:    opts,
	}
}

// Holder returns the session holder read by the data-access layer
func (m *Manager) Holder() *Holder {
	return m.holder
}

// Session returns a copy of the current session, or nil
func (m *Manager) Session() *domain.Session {
	return m.holder.Get()
}

// IsAdmin applies the configured admin predicate to the signed-in user
func (m *Manager) IsAdmin() bool {
	return m.opts.IsAdmin(m.holder.User())
}

// Loading reports whether Initialize is still in progress
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Initialize restores the persisted session. A stored session is validated
// with the backend and refreshed if needed; a corrupt or unrecoverable session
// resets all local state. The whole procedure is bounded by InitTimeout,
// after which loading ends with ErrInitTimeout and the late outcome is ignored.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	run := &initRun{}
	result := make(chan error, 1)
	go func() {
		result <- m.initialize(context.WithoutCancel(ctx), run)
	}()

	timer := time.NewTimer(m.opts.InitTimeout)
	defer timer.Stop()

	var err error
	abandon := false
	select {
	case err = <-result:
	case <-timer.C:
		err, abandon = ErrInitTimeout, true
	case <-ctx.Done():
		err, abandon = ctx.Err(), true
	}

	m.mu.Lock()
	if abandon {
		run.abandoned = true
		log.Printf("Session initialization abandoned: %v", err)
	}
	m.loading = false
	m.mu.Unlock()
	return err
}

func (m *Manager) initialize(ctx context.Context, run *initRun) error {
	stored, err := m.store.Load()
	if err != nil {
		log.Printf("Discarding persisted session: %v", err)
		m.commit(run, m.resetLocked)
		return nil
	}
	if stored == nil {
		return nil
	}
	if !m.backend.Configured() {
		return nil
	}

	session, event, err := m.validateOrRefresh(ctx, stored)
	if err != nil {
		log.Printf("Persisted session is no longer valid: %v", err)
		m.commit(run, m.resetLocked)
		return nil
	}
	m.commit(run, func() {
		m.setLocked(session)
		if event == TokenRefreshed {
			log.Printf("Session refreshed for %s", session.User.Username)
		}
	})
	return nil
}

// commit applies fn under the manager lock unless the run was abandoned
func (m *Manager) commit(run *initRun, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run != nil && run.abandoned {
		return false
	}
	fn()
	return true
}

// validateOrRefresh checks the access token with the backend and falls back
// to the refresh token. The returned event is SignedIn when the token was
// still valid and TokenRefreshed when a new session was issued.
func (m *Manager) validateOrRefresh(ctx context.Context, s *domain.Session) (*domain.Session, string, error) {
	user, err := m.backend.GetUser(ctx, s.AccessToken)
	if err == nil {
		validated := *s
		validated.User = *user
		return &validated, SignedIn, nil
	}
	if s.RefreshToken == "" {
		return nil, "", err
	}

	refreshed, rerr := m.backend.RefreshSession(ctx, s.RefreshToken)
	if rerr != nil {
		return nil, "", rerr
	}
	return refreshed, TokenRefreshed, nil
}

// OnAuthStateChange reacts to sign-in, sign-out and token refresh events
func (m *Manager) OnAuthStateChange(ctx context.Context, event string, s *domain.Session) error {
	switch event {
	case SignedIn:
		if s == nil {
			return ErrNoSession
		}
		validated, _, err := m.validateOrRefresh(ctx, s)
		if err != nil {
			m.commit(nil, m.resetLocked)
			return &AuthError{Message: "session could not be validated", Err: err}
		}
		m.commit(nil, func() { m.setLocked(validated) })
		m.startSync(ctx)
		return nil

	case SignedOut:
		m.commit(nil, m.clearLocked)
		return nil

	case TokenRefreshed:
		if s == nil {
			return ErrNoSession
		}
		m.commit(nil, func() { m.setLocked(s) })
		return nil

	default:
		return errors.New("unknown auth event " + event)
	}
}

// RefreshIfExpired exchanges the refresh token when the access token has expired
func (m *Manager) RefreshIfExpired(ctx context.Context) error {
	s := m.holder.Get()
	if s == nil {
		return ErrNoSession
	}
	if !s.Expired(time.Now()) {
		return nil
	}
	refreshed, err := m.backend.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		m.commit(nil, m.resetLocked)
		return &AuthError{Message: "your session has expired, please sign in again", Err: err}
	}
	return m.OnAuthStateChange(ctx, TokenRefreshed, refreshed)
}

// SignIn signs in with email and password
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return &AuthError{Message: "email and password are required", Err: ErrNoSession}
	}
	s, err := m.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return normalize(err, "invalid email or password")
	}
	return m.OnAuthStateChange(ctx, SignedIn, s)
}

// SignUp creates an email account and signs it in
func (m *Manager) SignUp(ctx context.Context, email, password, username string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return &AuthError{Message: "email and password are required", Err: ErrNoSession}
	}
	s, err := m.backend.SignUp(ctx, email, password, username)
	if err != nil {
		return normalize(err, "could not create account")
	}
	return m.OnAuthStateChange(ctx, SignedIn, s)
}

// SignInWithOAuth returns the URL that starts a provider sign-in.
// The backend redirects to redirectTo with the session in the URL fragment.
func (m *Manager) SignInWithOAuth(provider, redirectTo string) (string, error) {
	if provider != domain.ProviderSteam && provider != domain.ProviderDiscord {
		return "", &AuthError{Message: "unsupported sign-in provider " + provider}
	}
	u, err := m.backend.AuthorizeURL(provider, redirectTo)
	if err != nil {
		return "", normalize(err, "sign-in is not available")
	}
	return u, nil
}

// CompleteOAuth finishes a provider sign-in from the values carried in the
// redirect fragment (access_token, refresh_token, expires_at, or error)
func (m *Manager) CompleteOAuth(ctx context.Context, values url.Values) error {
	if e := values.Get("error"); e != "" {
		msg := values.Get("error_description")
		if msg == "" {
			msg = e
		}
		return &AuthError{Message: msg}
	}

	access := values.Get("access_token")
	if access == "" {
		return &AuthError{Message: "sign-in response did not include a session"}
	}
	s := &domain.Session{AccessToken: access, RefreshToken: values.Get("refresh_token")}
	if exp, err := strconv.ParseInt(values.Get("expires_at"), 10, 64); err == nil {
		s.ExpiresAt = time.Unix(exp, 0).UTC()
	}
	return m.OnAuthStateChange(ctx, SignedIn, s)
}

// SignOut revokes the session with the backend and clears it locally.
// Local state is cleared even when the backend call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	token := m.holder.AccessToken()
	var err error
	if token != "" {
		err = m.backend.SignOut(ctx, token)
	}
	m.OnAuthStateChange(ctx, SignedOut, nil)
	if err != nil {
		return normalize(err, "sign out failed")
	}
	return nil
}

// Wait blocks until background user syncs have finished
func (m *Manager) Wait() {
	m.syncs.Wait()
}

// startSync runs the post-sign-in user sync in the background with a fixed
// number of retries. A final failure is logged and the session is kept.
func (m *Manager) startSync(ctx context.Context) {
	if m.opts.SyncUser == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	m.syncs.Add(1)
	go func() {
		defer m.syncs.Done()
		attempts := 1 + m.opts.SyncRetries
		for attempt := 1; attempt <= attempts; attempt++ {
			err := m.opts.SyncUser(ctx)
			if err == nil {
				return
			}
			if attempt == attempts {
				log.Printf("User sync failed after %d attempts: %v", attempts, err)
				return
			}
			log.Printf("User sync attempt %d failed: %v", attempt, err)
			time.Sleep(m.opts.SyncInterval)
		}
	}()
}

func (m *Manager) setLocked(s *domain.Session) {
	m.holder.Set(s)
	if err := m.store.Save(s); err != nil {
		log.Printf("Error persisting session: %v", err)
	}
}

func (m *Manager) clearLocked() {
	m.holder.Clear()
	if err := m.store.Clear(); err != nil {
		log.Printf("Error clearing persisted session: %v", err)
	}
	if m.opts.ClearUserData != nil {
		m.opts.ClearUserData()
	}
}

// resetLocked clears everything and asks the front end to start over
func (m *Manager) resetLocked() {
	m.clearLocked()
	if m.opts.Reload != nil {
		m.opts.Reload()
	}
}

// normalize converts backend failures into an AuthError with a readable message
func normalize(err error, fallback string) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, backend.ErrNotConfigured) {
		return &AuthError{Message: "sign-in is not available: backend is not configured", Err: err}
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return &AuthError{Message: apiErr.Message, Err: err}
	}
	return &AuthError{Message: fallback, Err: err}
}
