// Package session owns the console's authentication state: who is logged in,
// with which bearer token, and whether the startup check has finished.
//
// A Manager moves between three states. It starts loading, resolves exactly
// once via Bootstrap to authenticated or anonymous, and is afterwards changed
// only by Login, Logout and Invalidate. The persisted token always follows the
// last completed transition.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tdisawas0github/project-os/internal/apiclient"
	"github.com/tdisawas0github/project-os/internal/tokenstore"
)

// Authenticator is the part of the backend API the manager drives.
// *apiclient.Client implements it.
type Authenticator interface {
	Verify(ctx context.Context, token string) (apiclient.User, error)
	Login(ctx context.Context, creds apiclient.Credentials) (string, apiclient.User, error)
	Logout(ctx context.Context, token string) error
}

const revokeTimeout = 5 * time.Second

type Manager struct {
	auth  Authenticator
	store tokenstore.Store
	log   zerolog.Logger

	once    sync.Once
	ready   chan struct{}
	bootErr error

	// persist serialises store writes with the transition they belong to.
	persist sync.Mutex

	mu       sync.RWMutex
	state    State
	seq      uint64        // bumped on every transition
	authDone chan struct{} // closed when the current authenticated session ends
	subs     map[int]func(State)
	nextSub  int

	// notifyMu orders deliveries; delivered is the newest seq handed out.
	notifyMu  sync.Mutex
	delivered uint64
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// New returns a manager in the loading state. Nothing is read until Bootstrap.
func New(auth Authenticator, store tokenstore.Store, opts ...Option) *Manager {
	m := &Manager{
		auth:     auth,
		store:    store,
		log:      zerolog.Nop(),
		ready:    make(chan struct{}),
		state:    State{Loading: true},
		authDone: make(chan struct{}),
		subs:     map[int]func(State){},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Attach makes c send this session's token on screen requests and report
// 401s back through Invalidate.
func (m *Manager) Attach(c *apiclient.Client) {
	c.SetTokenSource(m)
	c.OnUnauthorized(func(token string) { m.Invalidate(token) })
}

// Ready is closed once Bootstrap has resolved the initial state.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Bootstrap restores a persisted session. It runs once per Manager; later and
// concurrent callers wait for the first run and get its result. Verification
// failures are absorbed into the anonymous state and erase the stored token.
//
// The one exception is ctx ending mid-check: the session still resolves
// anonymous, but the stored token is kept because the backend never judged it,
// and the context error is returned.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.once.Do(func() {
		m.bootErr = m.bootstrap(ctx)
		close(m.ready)
	})
	return m.bootErr
}

func (m *Manager) bootstrap(ctx context.Context) error {
	token, ok, err := m.store.Load(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			m.resolveBoot(anonymous())
			return cerr
		}
		if errors.Is(err, tokenstore.ErrCorrupt) {
			m.log.Warn().Err(err).Msg("discarding unreadable session")
		} else {
			m.log.Warn().Err(err).Msg("could not read persisted session")
		}
		m.persist.Lock()
		if m.stillLoading() {
			m.clearStore()
		}
		notify := m.transition(loading, anonymous())
		m.persist.Unlock()
		notify()
		return nil
	}
	if !ok || token == "" {
		m.resolveBoot(anonymous())
		return nil
	}

	user, err := m.auth.Verify(ctx, token)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			// interrupted, not rejected: keep the token for the next run
			m.resolveBoot(anonymous())
			return cerr
		}
		m.log.Info().Err(err).Msg("persisted session rejected")
		m.persist.Lock()
		if m.stillLoading() {
			m.clearStore()
		}
		notify := m.transition(loading, anonymous())
		m.persist.Unlock()
		notify()
		return nil
	}
	m.log.Debug().Str("user", user.Username).Msg("session restored")
	m.resolveBoot(authenticated(token, user))
	return nil
}

func (m *Manager) stillLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Loading
}

func loading(cur State) bool { return cur.Loading }

// resolveBoot applies the bootstrap outcome unless a login already moved the
// session on.
func (m *Manager) resolveBoot(next State) {
	m.transition(loading, next)()
}

// Login authenticates with a username and password.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	return m.LoginWith(ctx, apiclient.Credentials{Username: username, Password: password})
}

// LoginWith authenticates with full credentials, including an optional OTP.
// On failure the session is left as it was and a *LoginError is returned.
func (m *Manager) LoginWith(ctx context.Context, creds apiclient.Credentials) error {
	token, user, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.log.Debug().Err(err).Str("user", creds.Username).Msg("login rejected")
		return &LoginError{Message: apiclient.ServerMessage(err), Err: err}
	}

	m.persist.Lock()
	if err := m.store.Save(ctx, token); err != nil {
		m.persist.Unlock()
		m.log.Warn().Err(err).Msg("could not persist session")
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		if lerr := m.auth.Logout(rctx, token); lerr != nil {
			m.log.Debug().Err(lerr).Msg("revoking unsaved session")
		}
		cancel()
		return &LoginError{Message: defaultLoginMessage + ": could not persist session", Err: err}
	}
	notify := m.transition(nil, authenticated(token, user))
	m.persist.Unlock()
	notify()
	m.log.Debug().Str("user", user.Username).Msg("logged in")
	return nil
}

// Logout ends the session. The backend is told on a best-effort basis; the
// local session is always dropped. Calling it while anonymous is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	token := m.Token()
	if token != "" {
		if err := m.auth.Logout(ctx, token); err != nil {
			m.log.Debug().Err(err).Msg("logout request failed")
		}
	}
	m.persist.Lock()
	m.clearStore()
	notify := m.transition(nil, anonymous())
	m.persist.Unlock()
	notify()
}

// Invalidate drops the session after the backend rejected token. It does
// nothing unless token is the one currently held, so a late rejection of an
// older session cannot end a newer one. It reports whether it acted.
func (m *Manager) Invalidate(token string) bool {
	if token == "" {
		return false
	}
	m.persist.Lock()
	if m.Token() != token {
		m.persist.Unlock()
		m.log.Debug().Msg("ignoring rejection of a stale token")
		return false
	}
	m.log.Info().Msg("session rejected by backend")
	m.clearStore()
	notify := m.transition(nil, anonymous())
	m.persist.Unlock()
	notify()
	return true
}

func (m *Manager) clearStore() {
	if err := m.store.Clear(context.Background()); err != nil {
		m.log.Warn().Err(err).Msg("could not clear persisted session")
	}
}

// transition installs next when cond (if any) holds for the current state. The
// returned func notifies subscribers and must be called once no lock is held.
func (m *Manager) transition(cond func(State) bool, next State) (notify func()) {
	m.mu.Lock()
	if cond != nil && !cond(m.state) {
		m.mu.Unlock()
		return func() {}
	}
	prev := m.state
	m.state = next
	m.seq++
	seq := m.seq
	if prev.Authenticated && (!next.Authenticated || next.Token != prev.Token) {
		close(m.authDone)
		m.authDone = make(chan struct{})
	}
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	return func() {
		m.notifyMu.Lock()
		defer m.notifyMu.Unlock()
		if seq <= m.delivered {
			return // a newer state already went out
		}
		m.delivered = seq
		for _, fn := range subs {
			fn(next.clone())
		}
	}
}

// State returns a copy of the current session.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Token returns the bearer token, or "" when not authenticated. It makes the
// Manager an apiclient.TokenSource.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Token
}

func (m *Manager) User() (apiclient.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.User == nil {
		return apiclient.User{}, false
	}
	return *m.state.User, true
}

func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Authenticated
}

// Subscribe calls fn with the new state after every transition until the
// returned cancel func is called. fn runs on the goroutine that caused the
// transition and must not block. It may read the session but must not call
// Login, Logout or Invalidate.
//
// Deliveries are ordered. When transitions race, a state that was superseded
// before it could be delivered is skipped, so the last state fn sees is the
// one State reports.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// AuthContext derives a context from parent that is cancelled with cause
// ErrSignedOut when the session current at call time ends, by logout,
// invalidation or a login as someone else. When not authenticated the
// returned context is already cancelled.
func (m *Manager) AuthContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	m.mu.RLock()
	authed, done := m.state.Authenticated, m.authDone
	m.mu.RUnlock()
	if !authed {
		cancel(ErrSignedOut)
		return ctx, func() { cancel(context.Canceled) }
	}
	go func() {
		select {
		case <-done:
			cancel(ErrSignedOut)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
