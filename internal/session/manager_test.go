package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"taskchat/internal/apperr"
	"taskchat/internal/credstore"
	"taskchat/internal/gateway"
	"taskchat/internal/service"
	"taskchat/internal/session"
	"taskchat/internal/testutil"
)

type fixture struct {
	api   *testutil.FakeAPI
	store *credstore.Memory
	mgr   *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	store := credstore.NewMemory()
	tr := gateway.NewTransport(gateway.Options{BaseURL: api.URL()})
	return &fixture{api: api, store: store, mgr: session.New(store, tr, nil)}
}

func (f *fixture) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("store get %s: %v", key, err)
	}
	return v, ok
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	uid := f.api.AddUser("a@b.com", "pw123456")

	sess, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Status != service.Authenticated || sess.User == nil || sess.User.ID != uid || sess.User.Email != "a@b.com" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Token == "" {
		t.Fatal("expected token")
	}

	rawUser, ok := f.stored(t, credstore.KeyUser)
	if !ok {
		t.Fatal("expected stored user")
	}
	var user service.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil || user.ID != uid {
		t.Errorf("stored user = %q (%v)", rawUser, err)
	}
	rawToken, _ := f.stored(t, credstore.KeyToken)
	if !strings.Contains(rawToken, sess.Token) || strings.Contains(rawToken, "pw123456") {
		t.Errorf("stored token = %q", rawToken)
	}
}

func TestLogin_FlatIdentity(t *testing.T) {
	f := newFixture(t)
	uid := f.api.AddUser("a@b.com", "pw123456")
	f.api.SetFlatLogin(true)

	sess, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.User.ID != uid || sess.User.Email != "a@b.com" {
		t.Errorf("unexpected identity %+v", sess.User)
	}
}

func TestLogin_MissingIdentity(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("a@b.com", "pw123456")
	f.api.SetOmitLoginUser(true)

	sess, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
	if !errors.Is(err, apperr.ErrInvalidServerResponse) {
		t.Fatalf("expected InvalidServerResponse, got %v", err)
	}
	if sess.Status != service.Anonymous {
		t.Errorf("expected Anonymous, got %v", sess.Status)
	}
	if _, ok := f.stored(t, credstore.KeyToken); ok {
		t.Error("token must not be stored")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("a@b.com", "pw123456")

	sess, err := f.mgr.Login(context.Background(), "a@b.com", "wrong")
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
	if sess.Status != service.Anonymous {
		t.Errorf("expected Anonymous, got %v", sess.Status)
	}
}

func TestLogin_ServerFailures(t *testing.T) {
	tests := []struct {
		name    string
		failure testutil.Failure
		message string
	}{
		{"json detail", testutil.Failure{Status: 500, ContentType: "application/json", Body: `{"detail":"database down"}`}, "database down"},
		{"html error", testutil.Failure{Status: 502, ContentType: "text/html", Body: "<h1>bad gateway</h1>"}, "<h1>bad gateway</h1>"},
		{"non-json success", testutil.Failure{Status: 200, ContentType: "text/html", Body: "<html></html>"}, "invalid response format received from server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.api.FailRoute(testutil.RouteSignin, tt.failure)

			sess, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
			if !errors.Is(err, apperr.ErrLoginFailed) {
				t.Fatalf("expected LoginFailed, got %v", err)
			}
			if got := apperr.MessageOf(err); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
			if sess.Status != service.Anonymous {
				t.Errorf("expected Anonymous, got %v", sess.Status)
			}
		})
	}
}

func TestLogin_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	for _, creds := range [][2]string{{"", "pw123456"}, {"a@b.com", ""}, {"   ", "x"}} {
		_, err := f.mgr.Login(context.Background(), creds[0], creds[1])
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Login(%q, %q): expected ValidationError, got %v", creds[0], creds[1], err)
		}
	}
	if n := f.api.TotalRequests(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestLogin_ConcurrentAttemptRejected(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("a@b.com", "pw123456")
	release := f.api.HoldRoute(testutil.RouteSignin)
	defer release()

	entered := make(chan struct{})
	cancel := f.mgr.Subscribe(func(s service.Session) {
		if s.Status == service.Authenticating {
			close(entered)
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
		done <- err
	}()
	<-entered
	cancel()

	_, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
	if !errors.Is(err, apperr.ErrLoginFailed) {
		t.Errorf("expected LoginFailed for concurrent login, got %v", err)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("first login: %v", err)
	}
	if f.mgr.Current().Status != service.Authenticated {
		t.Errorf("expected Authenticated, got %v", f.mgr.Current().Status)
	}
}

func TestLogin_LogoutDuringRequestWins(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("a@b.com", "pw123456")
	release := f.api.HoldRoute(testutil.RouteSignin)
	defer release()

	entered := make(chan struct{})
	var once sync.Once
	cancel := f.mgr.Subscribe(func(s service.Session) {
		if s.Status == service.Authenticating {
			once.Do(func() { close(entered) })
		}
	})
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456")
		done <- err
	}()
	<-entered
	if err := f.mgr.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	release()

	if err := <-done; err == nil {
		t.Fatal("expected superseded login to fail")
	}
	if got := f.mgr.Current().Status; got != service.Anonymous {
		t.Errorf("expected Anonymous, got %v", got)
	}
	if _, ok := f.stored(t, credstore.KeyToken); ok {
		t.Error("superseded login must not store a token")
	}
}

func TestRegister_SignsInAfterSignup(t *testing.T) {
	f := newFixture(t)

	sess, err := f.mgr.Register(context.Background(), "new@b.com", "pw123456")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.Status != service.Authenticated || sess.User.Email != "new@b.com" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if f.api.Count(testutil.RouteSignup) != 1 || f.api.Count(testutil.RouteSignin) != 1 {
		t.Errorf("expected one signup and one signin, got %d/%d",
			f.api.Count(testutil.RouteSignup), f.api.Count(testutil.RouteSignin))
	}

	// The token kept is the one issued by sign-in, which the fake issues last.
	rawToken, _ := f.stored(t, credstore.KeyToken)
	if !strings.Contains(rawToken, sess.Token) {
		t.Errorf("stored token %q does not match session token %q", rawToken, sess.Token)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Register(context.Background(), "a@b.com", "short")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.api.TotalRequests() != 0 {
		t.Error("expected no request for a short password")
	}
}

func TestRegister_FailuresAreRegistrationFailed(t *testing.T) {
	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture(t)
		f.api.AddUser("a@b.com", "pw123456")

		sess, err := f.mgr.Register(context.Background(), "a@b.com", "pw123456")
		if !errors.Is(err, apperr.ErrRegistrationFailed) {
			t.Fatalf("expected RegistrationFailed, got %v", err)
		}
		if apperr.MessageOf(err) != "Email already registered" {
			t.Errorf("message = %q", apperr.MessageOf(err))
		}
		if sess.Status != service.Anonymous {
			t.Errorf("expected Anonymous, got %v", sess.Status)
		}
	})

	t.Run("signin after signup fails", func(t *testing.T) {
		f := newFixture(t)
		f.api.FailRoute(testutil.RouteSignin, testutil.Failure{Status: 401, ContentType: "application/json", Body: `{"detail":"nope"}`})

		_, err := f.mgr.Register(context.Background(), "a@b.com", "pw123456")
		if !errors.Is(err, apperr.ErrRegistrationFailed) {
			t.Fatalf("expected RegistrationFailed, got %v", err)
		}
		if _, ok := f.stored(t, credstore.KeyToken); ok {
			t.Error("registration credentials must be cleared when sign-in fails")
		}
		if f.mgr.Current().Status != service.Anonymous {
			t.Errorf("expected Anonymous, got %v", f.mgr.Current().Status)
		}
	})
}

func TestValidateRegistration(t *testing.T) {
	if err := session.ValidateRegistration("pw123456", "pw123456"); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	err := session.ValidateRegistration("pw123456", "pw1234567")
	if !errors.Is(err, apperr.ErrValidation) || apperr.MessageOf(err) != "Passwords do not match" {
		t.Errorf("expected mismatch error, got %v", err)
	}
	if err := session.ValidateRegistration("short", "short"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected length error, got %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		user   string
		status service.Status
	}{
		{"token and user", `{"access_token":"T1","token_type":"Bearer"}`, `{"id":7,"email":"a@b.com"}`, service.Authenticated},
		{"bare token", "T1", `{"id":7,"email":"a@b.com"}`, service.Authenticated},
		{"token only", "T1", "", service.Anonymous},
		{"user only", "", `{"id":7,"email":"a@b.com"}`, service.Anonymous},
		{"malformed user", "T1", `not json`, service.Anonymous},
		{"user without id", "T1", `{"email":"a@b.com"}`, service.Anonymous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tt.token != "" {
				_ = f.store.Set(ctx, credstore.KeyToken, tt.token)
			}
			if tt.user != "" {
				_ = f.store.Set(ctx, credstore.KeyUser, tt.user)
			}
			_ = f.store.Set(ctx, credstore.KeyConversation, "5")

			sess, err := f.mgr.Bootstrap(ctx)
			if err != nil {
				t.Fatalf("bootstrap: %v", err)
			}
			if sess.Status != tt.status {
				t.Fatalf("status = %v, want %v", sess.Status, tt.status)
			}
			if f.api.TotalRequests() != 0 {
				t.Error("bootstrap must not contact the server")
			}
			if tt.status == service.Authenticated {
				if sess.Token != "T1" || sess.User.ID != 7 {
					t.Errorf("unexpected session %+v", sess)
				}
				if _, ok := f.stored(t, credstore.KeyConversation); !ok {
					t.Error("conversation handle must survive a restored session")
				}
				return
			}
			if _, ok := f.stored(t, credstore.KeyToken); ok {
				t.Error("partial token must be cleared")
			}
			if _, ok := f.stored(t, credstore.KeyUser); ok {
				t.Error("partial user must be cleared")
			}
			if _, ok := f.stored(t, credstore.KeyConversation); ok {
				t.Error("conversation handle must be cleared")
			}
		})
	}
}

func TestLogout_ClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.AddUser("a@b.com", "pw123456")
	if _, err := f.mgr.Login(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = f.store.Set(ctx, credstore.KeyConversation, "1")

	if err := f.mgr.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if f.mgr.Current().Status != service.Anonymous {
		t.Errorf("expected Anonymous, got %v", f.mgr.Current().Status)
	}
	for _, key := range credstore.SessionKeys {
		if _, ok := f.stored(t, key); ok {
			t.Errorf("expected %s to be cleared", key)
		}
	}

	// Logout from Anonymous is allowed.
	if err := f.mgr.Logout(ctx); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestForceExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.AddUser("a@b.com", "pw123456")
	sess, err := f.mgr.Login(ctx, "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var mu sync.Mutex
	var seen []service.Status
	cancel := f.mgr.Subscribe(func(s service.Session) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	defer cancel()

	// A stale token does not end the current session.
	if err := f.mgr.ForceExpire(ctx, "some-older-token"); err != nil {
		t.Fatalf("force expire: %v", err)
	}
	if f.mgr.Current().Status != service.Authenticated {
		t.Fatalf("stale token expired the session")
	}

	if err := f.mgr.ForceExpire(ctx, sess.Token); err != nil {
		t.Fatalf("force expire: %v", err)
	}
	if err := f.mgr.ForceExpire(ctx, sess.Token); err != nil {
		t.Fatalf("second force expire: %v", err)
	}

	cur := f.mgr.Current()
	if cur.Status != service.Expired || cur.Token != "" || cur.User != nil {
		t.Fatalf("unexpected session after expiry %+v", cur)
	}
	if _, ok := f.stored(t, credstore.KeyToken); ok {
		t.Error("token must be cleared on expiry")
	}
	mu.Lock()
	got := append([]service.Status(nil), seen...)
	mu.Unlock()
	if len(got) != 1 || got[0] != service.Expired {
		t.Errorf("expected exactly one Expired notification, got %v", got)
	}

	// Expired behaves like Anonymous for the next login.
	if _, err := f.mgr.Login(ctx, "a@b.com", "pw123456"); err != nil {
		t.Errorf("login after expiry: %v", err)
	}
}

// flakyStore fails Delete while broken is set.
type flakyStore struct {
	*credstore.Memory

	mu     sync.Mutex
	broken bool
}

func (s *flakyStore) setBroken(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = b
}

func (s *flakyStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("store unavailable")
	}
	return s.Memory.Delete(ctx, keys...)
}

func TestForceExpire_ClearFailure(t *testing.T) {
	ctx := context.Background()
	api := testutil.NewFakeAPI(t)
	api.AddUser("a@b.com", "pw123456")
	store := &flakyStore{Memory: credstore.NewMemory()}
	mgr := session.New(store, gateway.NewTransport(gateway.Options{BaseURL: api.URL()}), nil)

	sess, err := mgr.Login(ctx, "a@b.com", "pw123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = store.Set(ctx, credstore.KeyConversation, "3")

	store.setBroken(true)
	if err := mgr.ForceExpire(ctx, sess.Token); err == nil {
		t.Fatal("expected the clear failure to be reported")
	}
	if mgr.Current().Status != service.Expired {
		t.Fatalf("expected Expired despite the failure, got %v", mgr.Current().Status)
	}
	if _, ok, _ := store.Get(ctx, credstore.KeyToken); !ok {
		t.Fatal("token should still be stored while the store is broken")
	}

	// The next sign-in attempt clears the leftovers before it starts, even
	// when it fails.
	store.setBroken(false)
	if _, err := mgr.Login(ctx, "a@b.com", "wrong-password"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
	for _, key := range credstore.SessionKeys {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Errorf("%s survived the retried clear", key)
		}
	}
}

func TestGenerationIncreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.AddUser("a@b.com", "pw123456")

	g0 := f.mgr.Current().Generation
	if _, err := f.mgr.Login(ctx, "a@b.com", "pw123456"); err != nil {
		t.Fatalf("login: %v", err)
	}
	g1 := f.mgr.Current().Generation
	_ = f.mgr.Logout(ctx)
	g2 := f.mgr.Current().Generation
	if !(g0 < g1 && g1 < g2) {
		t.Errorf("generations not increasing: %d %d %d", g0, g1, g2)
	}
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("a@b.com", "pw123456")
	if _, err := f.mgr.Login(context.Background(), "a@b.com", "pw123456"); err != nil {
		t.Fatalf("login: %v", err)
	}
	s := f.mgr.Current()
	s.User.ID = 999
	if f.mgr.Current().User.ID == 999 {
		t.Error("Current exposed internal state")
	}
}
