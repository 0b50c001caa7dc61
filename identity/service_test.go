package identity_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	fileadapter "github.com/casbin/casbin/v3/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v3/persist/string-adapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maru/authorization"
	"maru/authorization/casbin"
	"maru/identity"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*identity.Identity
}

var _ identity.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*identity.Identity)}
}

func (repo *memUserRepo) Insert(_ context.Context, id *identity.Identity) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cp := *id
	repo.users[id.UID] = &cp

	return nil
}

func (repo *memUserRepo) Find(_ context.Context, uid string) (*identity.Identity, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	id, ok := repo.users[uid]
	if !ok {
		return nil, &identity.UserNotFoundError{UID: uid}
	}

	cp := *id

	return &cp, nil
}

func (repo *memUserRepo) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, id := range repo.users {
		if id.Email == email {
			cp := *id

			return &cp, nil
		}
	}

	return nil, &identity.UserByEmailNotFoundError{Email: email}
}

func (repo *memUserRepo) Update(_ context.Context, id *identity.Identity) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.users[id.UID]; !ok {
		return &identity.UserNotFoundError{UID: id.UID}
	}

	cp := *id
	repo.users[id.UID] = &cp

	return nil
}

func (repo *memUserRepo) Delete(_ context.Context, uid string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.users[uid]; !ok {
		return &identity.UserNotFoundError{UID: uid}
	}

	delete(repo.users, uid)

	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*identity.Session
}

var _ identity.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*identity.Session)}
}

func (repo *memSessionRepo) Insert(_ context.Context, session *identity.Session) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cp := *session
	repo.sessions[session.ID] = &cp

	return nil
}

func (repo *memSessionRepo) Find(_ context.Context, id string) (*identity.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	session, ok := repo.sessions[id]
	if !ok {
		return nil, &identity.SessionNotFoundError{ID: id}
	}

	cp := *session

	return &cp, nil
}

func (repo *memSessionRepo) Delete(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.sessions[id]; !ok {
		return &identity.SessionNotFoundError{ID: id}
	}

	delete(repo.sessions, id)

	return nil
}

func (repo *memSessionRepo) DeleteByUser(_ context.Context, uid string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for id, session := range repo.sessions {
		if session.UID == uid {
			delete(repo.sessions, id)
		}
	}

	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*identity.Token
}

var _ identity.TokenRepository = (*memTokenRepo)(nil)

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*identity.Token)}
}

func (repo *memTokenRepo) Insert(_ context.Context, token *identity.Token) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cp := *token
	repo.tokens[token.ID] = &cp

	return nil
}

func (repo *memTokenRepo) Find(_ context.Context, id string) (*identity.Token, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	token, ok := repo.tokens[id]
	if !ok {
		return nil, &identity.TokenNotFoundError{ID: id}
	}

	cp := *token

	return &cp, nil
}

func (repo *memTokenRepo) Delete(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.tokens[id]; !ok {
		return &identity.TokenNotFoundError{ID: id}
	}

	delete(repo.tokens, id)

	return nil
}

type sentMail struct {
	kind  string
	email string
	token string
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

var _ identity.Mailer = (*fakeMailer)(nil)

func (m *fakeMailer) failSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.sent = append(m.sent, sentMail{kind: "verification", email: email, token: token})

	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.sent = append(m.sent, sentMail{kind: "reset", email: email, token: token})

	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.sent)

	return m.sent[len(m.sent)-1]
}

type fixture struct {
	svc      *identity.Service
	users    *memUserRepo
	sessions *memSessionRepo
	mailer   *fakeMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "policy.csv")
	content := []byte("p, system:authenticated, maru, *, like")

	err := os.WriteFile(tmpFile, content, 0o600)
	require.NoError(t, err)

	provider, err := casbin.NewAuthorizationProvider(fileadapter.NewAdapter(tmpFile))
	require.NoError(t, err)

	authzSvc, err := authorization.NewService(provider)
	require.NoError(t, err)

	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	mailer := &fakeMailer{}

	svc := identity.NewService(
		users,
		sessions,
		newMemTokenRepo(),
		mailer,
		authorization.NewClient(authzSvc, "maru"),
	)

	return &fixture{
		svc:      svc,
		users:    users,
		sessions: sessions,
		mailer:   mailer,
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("success starts unverified and sends verification mail", func(t *testing.T) {
		fx := newFixture(t)

		id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		assert.False(t, id.EmailVerified)
		assert.Equal(t, identity.ProviderPassword, id.ProviderID)
		assert.False(t, id.IsVerified())

		mail := fx.mailer.last(t)
		assert.Equal(t, "verification", mail.kind)
		assert.Equal(t, "alice@example.com", mail.email)
		assert.NotEmpty(t, mail.token)
	})

	t.Run("display name falls back to the email local part", func(t *testing.T) {
		fx := newFixture(t)

		id, err := fx.svc.Register(ctx, "bob@example.com", "long enough", "")
		require.NoError(t, err)
		assert.Equal(t, "bob", id.DisplayName)
	})

	t.Run("malformed email", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "not-an-email", "long enough", "X")

		malformedErr := &identity.MalformedEmailError{}
		require.ErrorAs(t, err, &malformedErr)
	})

	t.Run("weak password", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "short", "Alice")

		weakErr := &identity.WeakPasswordError{}
		require.ErrorAs(t, err, &weakErr)
		assert.Equal(t, 8, weakErr.MinLength)
	})

	t.Run("duplicate email", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "long enough", "Alice")
		require.NoError(t, err)

		_, err = fx.svc.Register(ctx, "alice@example.com", "another pass", "Alice Again")

		dupErr := &identity.EmailAlreadyRegisteredError{}
		require.ErrorAs(t, err, &dupErr)
	})

	t.Run("verification mail failure does not fail registration", func(t *testing.T) {
		fx := newFixture(t)
		fx.mailer.failSends(errors.New("smtp unavailable"))

		id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
		require.NoError(t, err)

		// once mail delivery recovers, a resend still works
		fx.mailer.failSends(nil)

		err = fx.svc.SendVerificationEmail(ctx, id.UID)
		require.NoError(t, err)
		assert.Equal(t, "verification", fx.mailer.last(t).kind)
	})

	t.Run("group grant failure leaves no account behind", func(t *testing.T) {
		// The string adapter cannot persist new grouping policies, so the
		// authenticated-group grant fails after the user row is inserted.
		adapter := stringadapter.NewAdapter(`p, system:authenticated, maru, *, like`)

		provider, err := casbin.NewAuthorizationProvider(adapter)
		require.NoError(t, err)

		authzSvc, err := authorization.NewService(provider)
		require.NoError(t, err)

		users := newMemUserRepo()
		svc := identity.NewService(
			users,
			newMemSessionRepo(),
			newMemTokenRepo(),
			&fakeMailer{},
			authorization.NewClient(authzSvc, "maru"),
		)

		_, err = svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.Error(t, err)

		notFoundErr := &identity.UserByEmailNotFoundError{}
		_, err = users.FindByEmail(ctx, "alice@example.com")
		require.ErrorAs(t, err, &notFoundErr)

		// a retry reports the grant failure again, never a duplicate email
		_, err = svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.Error(t, err)

		dupErr := &identity.EmailAlreadyRegisteredError{}
		assert.False(t, errors.As(err, &dupErr))
	})
}

func TestService_SignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("success opens a session", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		id, sess, err := fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
		require.NoError(t, err)

		assert.Equal(t, "alice@example.com", id.Email)
		assert.Equal(t, id.UID, sess.UID)
		assert.True(t, sess.ExpiresAt.After(time.Now().Add(29*24*time.Hour)))
	})

	t.Run("wrong password", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "wrong horse")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("unknown email reads as invalid credentials", func(t *testing.T) {
		fx := newFixture(t)

		_, _, err := fx.svc.SignIn(ctx, "nobody@example.com", "whatever pass")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})

	t.Run("repeated failures lock the email out", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		for range 5 {
			_, _, err := fx.svc.SignIn(ctx, "alice@example.com", "wrong horse")
			require.ErrorIs(t, err, identity.ErrInvalidCredentials)
		}

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "correct horse")

		rateErr := &identity.RateLimitedError{}
		require.ErrorAs(t, err, &rateErr)
	})

	t.Run("success clears the failure count", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		for range 4 {
			_, _, err := fx.svc.SignIn(ctx, "alice@example.com", "wrong horse")
			require.ErrorIs(t, err, identity.ErrInvalidCredentials)
		}

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
		require.NoError(t, err)

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "wrong horse")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})
}

func TestService_Verification(t *testing.T) {
	ctx := context.Background()

	t.Run("confirm marks the identity verified", func(t *testing.T) {
		fx := newFixture(t)

		id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		token := fx.mailer.last(t).token

		verified, err := fx.svc.ConfirmVerification(ctx, token)
		require.NoError(t, err)

		assert.Equal(t, id.UID, verified.UID)
		assert.True(t, verified.EmailVerified)
		assert.True(t, verified.IsVerified())
	})

	t.Run("token is single use", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		token := fx.mailer.last(t).token

		_, err = fx.svc.ConfirmVerification(ctx, token)
		require.NoError(t, err)

		_, err = fx.svc.ConfirmVerification(ctx, token)

		notFoundErr := &identity.TokenNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)
	})

	t.Run("reset token cannot verify", func(t *testing.T) {
		fx := newFixture(t)

		_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		err = fx.svc.SendPasswordResetEmail(ctx, "alice@example.com")
		require.NoError(t, err)

		resetToken := fx.mailer.last(t).token

		_, err = fx.svc.ConfirmVerification(ctx, resetToken)

		notFoundErr := &identity.TokenNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)
	})
}

func TestService_SignInFederated(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	profile := identity.FederatedProfile{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		PhotoURL:    "https://example.com/a.png",
	}

	id, sess, err := fx.svc.SignInFederated(ctx, profile)
	require.NoError(t, err)

	assert.Equal(t, identity.ProviderGoogle, id.ProviderID)
	assert.True(t, id.IsVerified(), "federated identities skip email verification")
	assert.Equal(t, id.UID, sess.UID)

	t.Run("second sign-in reuses the identity", func(t *testing.T) {
		again, _, err := fx.svc.SignInFederated(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, id.UID, again.UID)
	})

	t.Run("group grant failure leaves no account behind", func(t *testing.T) {
		// Same setup as the registration case: the string adapter cannot
		// persist the grouping policy, so first contact fails after insert.
		adapter := stringadapter.NewAdapter(`p, system:authenticated, maru, *, like`)

		provider, err := casbin.NewAuthorizationProvider(adapter)
		require.NoError(t, err)

		authzSvc, err := authorization.NewService(provider)
		require.NoError(t, err)

		users := newMemUserRepo()
		svc := identity.NewService(
			users,
			newMemSessionRepo(),
			newMemTokenRepo(),
			&fakeMailer{},
			authorization.NewClient(authzSvc, "maru"),
		)

		_, _, err = svc.SignInFederated(ctx, identity.FederatedProfile{Email: "bob@example.com", DisplayName: "Bob"})
		require.Error(t, err)

		notFoundErr := &identity.UserByEmailNotFoundError{}
		_, err = users.FindByEmail(ctx, "bob@example.com")
		require.ErrorAs(t, err, &notFoundErr)
	})
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
	require.NoError(t, err)

	_, sess, err := fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	err = fx.svc.SendPasswordResetEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	mail := fx.mailer.last(t)
	require.Equal(t, "reset", mail.kind)

	t.Run("weak replacement password", func(t *testing.T) {
		err := fx.svc.ResetPassword(ctx, mail.token, "short")

		weakErr := &identity.WeakPasswordError{}
		require.ErrorAs(t, err, &weakErr)
	})

	t.Run("reset revokes sessions and swaps the password", func(t *testing.T) {
		err := fx.svc.ResetPassword(ctx, mail.token, "brand new pass")
		require.NoError(t, err)

		_, err = fx.svc.GetSession(ctx, sess.ID)
		notFoundErr := &identity.SessionNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)

		_, _, err = fx.svc.SignIn(ctx, "alice@example.com", "brand new pass")
		require.NoError(t, err)
	})
}

func TestService_Sessions(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
	require.NoError(t, err)

	_, sess, err := fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	t.Run("get open session", func(t *testing.T) {
		got, err := fx.svc.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.UID, got.UID)
	})

	t.Run("expired session", func(t *testing.T) {
		expired := &identity.Session{
			ID:        uuid.NewString(),
			UID:       sess.UID,
			CreatedAt: time.Now().Add(-48 * time.Hour),
			ExpiresAt: time.Now().Add(-time.Hour),
		}

		err := fx.sessions.Insert(ctx, expired)
		require.NoError(t, err)

		_, err = fx.svc.GetSession(ctx, expired.ID)

		expiredErr := &identity.SessionExpiredError{}
		require.ErrorAs(t, err, &expiredErr)
	})

	t.Run("sign out deletes the session", func(t *testing.T) {
		err := fx.svc.SignOut(ctx, sess.ID)
		require.NoError(t, err)

		_, err = fx.svc.GetSession(ctx, sess.ID)

		notFoundErr := &identity.SessionNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)
	})
}

func TestService_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
	require.NoError(t, err)

	updated, err := fx.svc.UpdateProfile(ctx, id.UID, "Alice Renamed", "https://example.com/new.png")
	require.NoError(t, err)

	assert.Equal(t, "Alice Renamed", updated.DisplayName)
	assert.Equal(t, "https://example.com/new.png", updated.PhotoURL)

	got, err := fx.svc.GetUser(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Renamed", got.DisplayName)
	assert.Empty(t, got.PasswordHash, "password hash never leaves the service")
}

func TestService_DeleteCurrentIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("recent session deletes the account", func(t *testing.T) {
		fx := newFixture(t)

		id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		_, sess, err := fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
		require.NoError(t, err)

		err = fx.svc.DeleteCurrentIdentity(ctx, sess.ID)
		require.NoError(t, err)

		_, err = fx.svc.GetUser(ctx, id.UID)

		notFoundErr := &identity.UserNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)
	})

	t.Run("stale session requires re-authentication", func(t *testing.T) {
		fx := newFixture(t)

		id, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
		require.NoError(t, err)

		stale := &identity.Session{
			ID:        uuid.NewString(),
			UID:       id.UID,
			CreatedAt: time.Now().Add(-time.Hour),
			ExpiresAt: time.Now().Add(24 * time.Hour),
		}

		err = fx.sessions.Insert(ctx, stale)
		require.NoError(t, err)

		err = fx.svc.DeleteCurrentIdentity(ctx, stale.ID)

		staleErr := &identity.StaleSessionError{}
		require.ErrorAs(t, err, &staleErr)

		// nothing was deleted
		_, err = fx.svc.GetUser(ctx, id.UID)
		require.NoError(t, err)
	})
}

func TestService_OnIdentityChanged(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	var (
		mu     sync.Mutex
		events []*identity.Identity
	)

	fx.svc.OnIdentityChanged(func(id *identity.Identity) {
		mu.Lock()
		events = append(events, id)
		mu.Unlock()
	})

	_, err := fx.svc.Register(ctx, "alice@example.com", "correct horse", "Alice")
	require.NoError(t, err)

	token := fx.mailer.last(t).token

	_, err = fx.svc.ConfirmVerification(ctx, token)
	require.NoError(t, err)

	_, sess, err := fx.svc.SignIn(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	err = fx.svc.SignOut(ctx, sess.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, events, 4)

	assert.False(t, events[0].EmailVerified, "register emits unverified")
	assert.True(t, events[1].EmailVerified, "confirm emits verified")
	assert.NotNil(t, events[2], "sign-in emits the identity")
	assert.Nil(t, events[3], "sign-out emits nil")
}
