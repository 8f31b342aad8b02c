// Package session owns the authentication state machine.
//
// A Manager is the only writer of the session keys in the credential store.
// Everything else reads the session through Current or learns about changes
// through Subscribe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"pkt.systems/pslog"

	"taskchat/internal/apperr"
	"taskchat/internal/credstore"
	"taskchat/internal/gateway"
	"taskchat/internal/logx"
	"taskchat/internal/service"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

const (
	signinPath = "/api/auth/signin"
	signupPath = "/api/auth/signup"
)

// Exchanger sends anonymous requests. *gateway.Transport implements it.
type Exchanger interface {
	Exchange(ctx context.Context, req gateway.Request) (*gateway.Reply, error)
}

// Manager is the Session Manager.
type Manager struct {
	store credstore.Store
	t     Exchanger
	log   pslog.Logger

	mu      sync.Mutex
	state   service.Session
	subs    map[int]func(service.Session)
	nextSub int

	// staleStore is set while credentials of an ended session may still be stored.
	staleStore bool
}

// New returns a Manager in the Anonymous state. Call Bootstrap to restore a
// stored session.
func New(store credstore.Store, t Exchanger, logger pslog.Logger) *Manager {
	return &Manager{
		store: store,
		t:     t,
		log:   logx.Or(logger),
		state: service.Session{Status: service.Anonymous},
		subs:  make(map[int]func(service.Session)),
	}
}

// Current returns a copy of the session state.
func (m *Manager) Current() service.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySession(m.state)
}

// Subscribe registers fn to receive the new state after every transition.
// fn runs on the goroutine that caused the transition, after the Manager's
// lock is released. Concurrent transitions may deliver out of order; receivers
// order states by Generation.
func (m *Manager) Subscribe(fn func(service.Session)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Bootstrap restores the stored session without contacting the server. A
// token with a well-formed identity yields Authenticated; anything partial or
// malformed is cleared and yields Anonymous.
func (m *Manager) Bootstrap(ctx context.Context) (service.Session, error) {
	token, user, err := m.loadStored(ctx)
	if err != nil {
		m.log.Warn("stored session unreadable, clearing", "err", err)
	}

	m.mu.Lock()
	var storeErr error
	if token != "" && user != nil {
		m.transitionLocked(service.Session{Status: service.Authenticated, Token: token, User: user})
	} else {
		if err := m.store.Delete(ctx, credstore.SessionKeys...); err != nil {
			storeErr = err
		}
		m.transitionLocked(service.Session{Status: service.Anonymous})
	}
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
	if storeErr != nil {
		return next, apperr.Wrap(apperr.Unknown, storeErr, "failed to clear stored session")
	}
	return next, nil
}

func (m *Manager) loadStored(ctx context.Context) (string, *service.User, error) {
	rawToken, hasToken, err := m.store.Get(ctx, credstore.KeyToken)
	if err != nil {
		return "", nil, err
	}
	rawUser, hasUser, err := m.store.Get(ctx, credstore.KeyUser)
	if err != nil {
		return "", nil, err
	}
	if !hasToken || !hasUser {
		return "", nil, nil
	}
	token := decodeToken(rawToken)
	user, err := decodeUser(rawUser)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Login exchanges credentials for a token. A second Login while one is in
// flight fails with LoginFailed.
func (m *Manager) Login(ctx context.Context, email, password string) (service.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return m.Current(), apperr.New(apperr.ValidationError, "email and password are required")
	}
	gen, err := m.begin(ctx)
	if err != nil {
		return m.Current(), err
	}
	sess, err := m.signin(ctx, gen, email, password)
	if err != nil {
		m.fail(ctx, gen)
		return m.Current(), err
	}
	return sess, nil
}

// Register creates an account, stores the returned credentials, then signs in
// with the same credentials. The sign-in result is the one kept. Every failure
// after local validation is RegistrationFailed.
func (m *Manager) Register(ctx context.Context, email, password string) (service.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return m.Current(), apperr.New(apperr.ValidationError, "email and password are required")
	}
	if len(password) < MinPasswordLength {
		return m.Current(), apperr.Newf(apperr.ValidationError, "password must be at least %d characters", MinPasswordLength)
	}
	gen, err := m.begin(ctx)
	if err != nil {
		return m.Current(), apperr.Wrap(apperr.RegistrationFailed, err, apperr.MessageOf(err))
	}

	sess, err := m.signup(ctx, gen, email, password)
	if err == nil {
		sess, err = m.signin(ctx, gen, email, password)
	}
	if err != nil {
		m.fail(ctx, gen)
		if apperr.KindOf(err) == apperr.RegistrationFailed {
			return m.Current(), err
		}
		return m.Current(), &apperr.Error{
			Kind:   apperr.RegistrationFailed,
			Status: apperr.StatusOf(err),
			Detail: apperr.MessageOf(err),
			Err:    err,
		}
	}
	return sess, nil
}

// Logout clears the stored session and returns to Anonymous from any state.
// The transition happens even when the store cannot be cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	storeErr := m.store.Delete(ctx, credstore.SessionKeys...)
	m.staleStore = storeErr != nil
	m.transitionLocked(service.Session{Status: service.Anonymous})
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
	if storeErr != nil {
		return apperr.Wrap(apperr.Unknown, storeErr, "failed to clear stored session")
	}
	return nil
}

// ForceExpire ends the session that owns token and moves to Expired. It is a
// no-op when the session is not Authenticated or token is no longer current.
// The transition happens even when the store cannot be cleared; the clear is
// then retried by the next sign-in attempt.
func (m *Manager) ForceExpire(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state.Status != service.Authenticated || m.state.Token != token {
		m.mu.Unlock()
		return nil
	}
	storeErr := m.store.Delete(ctx, credstore.SessionKeys...)
	m.staleStore = storeErr != nil
	m.transitionLocked(service.Session{Status: service.Expired})
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
	if storeErr != nil {
		m.log.Warn("failed to clear expired session", "err", storeErr)
		return apperr.Wrap(apperr.Unknown, storeErr, "failed to clear expired session")
	}
	return nil
}

// begin moves to Authenticating and returns the generation that owns the
// attempt. Leaving Authenticated, or an expiry whose clear failed, drops the
// stored session first.
func (m *Manager) begin(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	if m.state.Status == service.Authenticating {
		m.mu.Unlock()
		return 0, apperr.New(apperr.LoginFailed, "a sign-in is already in progress")
	}
	if m.state.Status == service.Authenticated || m.staleStore {
		if err := m.store.Delete(ctx, credstore.SessionKeys...); err != nil {
			m.mu.Unlock()
			return 0, apperr.Wrap(apperr.LoginFailed, err, "failed to clear previous session")
		}
		m.staleStore = false
	}
	m.transitionLocked(service.Session{Status: service.Authenticating})
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
	return next.Generation, nil
}

// fail returns an attempt that still owns the session to Anonymous.
func (m *Manager) fail(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.state.Generation != gen {
		m.mu.Unlock()
		return
	}
	if err := m.store.Delete(ctx, credstore.KeyToken, credstore.KeyUser); err != nil {
		m.log.Warn("failed to clear partial session", "err", err)
	}
	m.transitionLocked(service.Session{Status: service.Anonymous})
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
}

func (m *Manager) signin(ctx context.Context, gen uint64, email, password string) (service.Session, error) {
	reply, err := m.t.Exchange(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   signinPath,
		Body:   credentials{Email: email, Password: password},
	})
	if err != nil {
		return service.Session{}, err
	}

	switch {
	case reply.Status == http.StatusUnauthorized:
		detail := "invalid email or password"
		if reply.IsJSON() {
			if d := reply.Detail(); d != "" {
				detail = d
			}
		}
		return service.Session{}, &apperr.Error{Kind: apperr.InvalidCredentials, Status: reply.Status, Detail: detail}
	case !reply.OK() || !reply.IsJSON():
		return service.Session{}, &apperr.Error{Kind: apperr.LoginFailed, Status: reply.Status, Detail: failureDetail(reply, "login failed")}
	}

	token, user, err := parseAuthResponse(reply)
	if err != nil {
		return service.Session{}, err
	}
	return m.commit(ctx, gen, token, user)
}

// signup stores the registration credentials under the attempt's generation.
// The session stays Authenticating until the sign-in that follows.
func (m *Manager) signup(ctx context.Context, gen uint64, email, password string) (service.Session, error) {
	reply, err := m.t.Exchange(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   signupPath,
		Body:   credentials{Email: email, Password: password},
	})
	if err != nil {
		return service.Session{}, err
	}
	if !reply.OK() || !reply.IsJSON() {
		return service.Session{}, &apperr.Error{Kind: apperr.RegistrationFailed, Status: reply.Status, Detail: failureDetail(reply, "registration failed")}
	}
	token, user, err := parseAuthResponse(reply)
	if err != nil {
		return service.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Generation != gen {
		return service.Session{}, apperr.New(apperr.RegistrationFailed, "session changed during registration")
	}
	if err := m.persistLocked(ctx, token, user); err != nil {
		return service.Session{}, apperr.Wrap(apperr.RegistrationFailed, err, "failed to store credentials")
	}
	logx.WithUser(m.log, user).Debug("registration stored, signing in")
	return copySession(m.state), nil
}

// commit stores token and user and moves to Authenticated, provided gen still
// owns the session. A logout during the request wins over its response.
func (m *Manager) commit(ctx context.Context, gen uint64, token string, user *service.User) (service.Session, error) {
	m.mu.Lock()
	if m.state.Generation != gen {
		m.mu.Unlock()
		return service.Session{}, apperr.New(apperr.LoginFailed, "session changed during sign-in")
	}
	if err := m.persistLocked(ctx, token, user); err != nil {
		m.mu.Unlock()
		return service.Session{}, apperr.Wrap(apperr.LoginFailed, err, "failed to store credentials")
	}
	m.transitionLocked(service.Session{Status: service.Authenticated, Token: token, User: user})
	next, subs := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(next, subs)
	return next, nil
}

func (m *Manager) persistLocked(ctx context.Context, token string, user *service.User) error {
	tokenJSON, err := encodeToken(token)
	if err != nil {
		return err
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, credstore.KeyToken, tokenJSON); err != nil {
		return err
	}
	return m.store.Set(ctx, credstore.KeyUser, string(userJSON))
}

func (m *Manager) transitionLocked(next service.Session) {
	prev := m.state
	next.Generation = prev.Generation + 1
	m.state = next
	logx.WithSession(m.log, next).Debug("session transition", "from", prev.Status.String())
}

func (m *Manager) snapshotLocked() (service.Session, []func(service.Session)) {
	subs := make([]func(service.Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return copySession(m.state), subs
}

func (m *Manager) notify(sess service.Session, subs []func(service.Session)) {
	for _, fn := range subs {
		fn(copySession(sess))
	}
}

// ValidateRegistration is the caller-side check run before Register.
func ValidateRegistration(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return apperr.Newf(apperr.ValidationError, "password must be at least %d characters", MinPasswordLength)
	}
	if password != confirm {
		return apperr.New(apperr.ValidationError, "Passwords do not match")
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse accepts both the nested user object and the flat legacy fields.
type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        *struct {
		ID    *int   `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	UserID *int   `json:"user_id"`
	Email  string `json:"email"`
}

func parseAuthResponse(reply *gateway.Reply) (string, *service.User, error) {
	var body authResponse
	if err := reply.Decode(&body); err != nil {
		return "", nil, apperr.Wrap(apperr.InvalidServerResponse, err, "invalid response format received from server")
	}
	token := strings.TrimSpace(body.AccessToken)
	if token == "" {
		return "", nil, apperr.New(apperr.InvalidServerResponse, "server response did not include an access token")
	}

	var user *service.User
	switch {
	case body.User != nil && body.User.ID != nil:
		user = &service.User{ID: *body.User.ID, Email: body.User.Email}
	case body.UserID != nil:
		user = &service.User{ID: *body.UserID, Email: body.Email}
	default:
		return "", nil, apperr.New(apperr.InvalidServerResponse, "server response did not include a user id")
	}
	return token, user, nil
}

func failureDetail(reply *gateway.Reply, fallback string) string {
	if reply.IsJSON() {
		if d := reply.Detail(); d != "" {
			return d
		}
		return fallback
	}
	if reply.OK() {
		return "invalid response format received from server"
	}
	return reply.Text()
}

func encodeToken(access string) (string, error) {
	data, err := json.Marshal(&oauth2.Token{AccessToken: access, TokenType: "Bearer"})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeToken reads an oauth2.Token JSON value. A bare string is accepted as
// the access token itself.
func decodeToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return ""
	}
	return tok.AccessToken
}

var errMalformedUser = errors.New("stored user is malformed")

func decodeUser(raw string) (*service.User, error) {
	var stored struct {
		ID    *int   `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, errMalformedUser
	}
	if stored.ID == nil {
		return nil, errMalformedUser
	}
	return &service.User{ID: *stored.ID, Email: stored.Email}, nil
}

func copySession(s service.Session) service.Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
