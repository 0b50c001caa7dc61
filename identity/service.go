package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"maru/authorization"
)

const (
	minPasswordLength = 8

	defaultSessionDuration = 30 * 24 * time.Hour

	verificationTokenDuration  = 24 * time.Hour
	passwordResetTokenDuration = time.Hour

	// recentLoginWindow bounds how old a sign-in may be for destructive
	// account operations.
	recentLoginWindow = 5 * time.Minute
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service is the identity provider. It owns credentials, sessions, email
// tokens, and the identity-changed notification fan-out; everything else in
// the system treats identities as read-only input.
type Service struct {
	userRepo    UserRepository
	sessionRepo SessionRepository
	tokenRepo   TokenRepository
	mailer      Mailer
	authzClient *authorization.Client
	limiter     *signInLimiter

	mu        sync.Mutex
	listeners []func(*Identity)
}

func NewService(
	userRepo UserRepository,
	sessionRepo SessionRepository,
	tokenRepo TokenRepository,
	mailer Mailer,
	authzClient *authorization.Client,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokenRepo:   tokenRepo,
		mailer:      mailer,
		authzClient: authzClient,
		limiter:     newSignInLimiter(),
	}
}

// OnIdentityChanged registers a listener for identity-changed notifications.
// Listeners receive the changed identity, or nil on sign-out, and are called
// synchronously.
func (svc *Service) OnIdentityChanged(fn func(*Identity)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.listeners = append(svc.listeners, fn)
}

func (svc *Service) emit(id *Identity) {
	svc.mu.Lock()
	listeners := make([]func(*Identity), len(svc.listeners))
	copy(listeners, svc.listeners)
	svc.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &MalformedEmailError{Email: email}
	}

	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return &WeakPasswordError{MinLength: minPasswordLength}
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bcryptHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(bcryptHash), nil
}

// Register creates a credential identity. The identity starts unverified; a
// verification email is sent immediately.
func (svc *Service) Register(ctx context.Context, email, password, displayName string) (*Identity, error) {
	err := validateEmail(email)
	if err != nil {
		return nil, err
	}

	err = validatePassword(password)
	if err != nil {
		return nil, err
	}

	_, err = svc.userRepo.FindByEmail(ctx, email)
	if err != nil {
		var notFoundErr *UserByEmailNotFoundError
		if !errors.As(err, &notFoundErr) {
			return nil, fmt.Errorf("failed to check if email already exists: %w", err)
		}
	} else {
		return nil, &EmailAlreadyRegisteredError{Email: email}
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	id := &Identity{
		UID:           uuid.NewString(),
		Email:         email,
		DisplayName:   displayName,
		EmailVerified: false,
		ProviderID:    ProviderPassword,
		PasswordHash:  passwordHash,
		RegisteredAt:  time.Now(),
	}

	err = svc.userRepo.Insert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to register identity: %w", err)
	}

	err = svc.authzClient.AddToGroup(ctx, id.UID, authorization.GroupAuthenticated)
	if err != nil {
		// Remove the row again so a retry does not hit the duplicate-email
		// check against a half-registered account.
		deleteErr := svc.userRepo.Delete(ctx, id.UID)
		if deleteErr != nil {
			slog.ErrorContext(ctx, "failed to remove identity after group grant failure", "uid", id.UID, "error", deleteErr)
		}

		return nil, fmt.Errorf("failed to add identity to authenticated group: %w", err)
	}

	err = svc.SendVerificationEmail(ctx, id.UID)
	if err != nil {
		// The registration stands; the identity can sign in unverified and
		// request a resend.
		slog.ErrorContext(ctx, "failed to send verification email", "uid", id.UID, "error", err)
	}

	svc.emit(id)

	return id, nil
}

// SignIn authenticates a credential identity and opens a session.
func (svc *Service) SignIn(ctx context.Context, email, password string) (*Identity, *Session, error) {
	if !svc.limiter.allow(email) {
		return nil, nil, &RateLimitedError{Email: email}
	}

	id, err := svc.userRepo.FindByEmail(ctx, email)
	if err != nil {
		var notFoundErr *UserByEmailNotFoundError
		if errors.As(err, &notFoundErr) {
			svc.limiter.fail(email)

			return nil, nil, ErrInvalidCredentials
		}

		return nil, nil, fmt.Errorf("failed to find identity by email: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(id.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			svc.limiter.fail(email)

			return nil, nil, ErrInvalidCredentials
		}

		return nil, nil, fmt.Errorf("failed to compare password hash: %w", err)
	}

	svc.limiter.reset(email)

	sess, err := svc.openSession(ctx, id.UID)
	if err != nil {
		return nil, nil, err
	}

	svc.emit(id)

	return id, sess, nil
}

// FederatedProfile is what a federated sign-in exchange yields.
type FederatedProfile struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// SignInFederated signs in (registering on first contact) with a federated
// identity. Federated identities are treated as pre-verified.
func (svc *Service) SignInFederated(ctx context.Context, profile FederatedProfile) (*Identity, *Session, error) {
	err := validateEmail(profile.Email)
	if err != nil {
		return nil, nil, err
	}

	id, err := svc.userRepo.FindByEmail(ctx, profile.Email)
	if err != nil {
		var notFoundErr *UserByEmailNotFoundError
		if !errors.As(err, &notFoundErr) {
			return nil, nil, fmt.Errorf("failed to find identity by email: %w", err)
		}

		id = &Identity{
			UID:          uuid.NewString(),
			Email:        profile.Email,
			DisplayName:  profile.DisplayName,
			PhotoURL:     profile.PhotoURL,
			ProviderID:   ProviderGoogle,
			RegisteredAt: time.Now(),
		}

		err = svc.userRepo.Insert(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to register federated identity: %w", err)
		}

		err = svc.authzClient.AddToGroup(ctx, id.UID, authorization.GroupAuthenticated)
		if err != nil {
			// Remove the row again; a later retry finds an existing identity
			// and would never re-attempt the grant.
			deleteErr := svc.userRepo.Delete(ctx, id.UID)
			if deleteErr != nil {
				slog.ErrorContext(ctx, "failed to remove identity after group grant failure", "uid", id.UID, "error", deleteErr)
			}

			return nil, nil, fmt.Errorf("failed to add identity to authenticated group: %w", err)
		}
	}

	sess, err := svc.openSession(ctx, id.UID)
	if err != nil {
		return nil, nil, err
	}

	svc.emit(id)

	return id, sess, nil
}

func (svc *Service) openSession(ctx context.Context, uid string) (*Session, error) {
	timeNow := time.Now()

	sess := &Session{
		ID:        uuid.NewString(),
		UID:       uid,
		CreatedAt: timeNow,
		ExpiresAt: timeNow.Add(defaultSessionDuration),
	}

	err := svc.sessionRepo.Insert(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// SignOut closes the session and pushes a nil identity-changed notification.
func (svc *Service) SignOut(ctx context.Context, sessionID string) error {
	err := svc.sessionRepo.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	svc.emit(nil)

	return nil
}

func (svc *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := svc.sessionRepo.Find(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if sess.ExpiresAt.Before(time.Now()) {
		return nil, &SessionExpiredError{ID: sessionID}
	}

	return sess, nil
}

func (svc *Service) GetUser(ctx context.Context, uid string) (*Identity, error) {
	id, err := svc.userRepo.Find(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by uid: %w", err)
	}

	id.PasswordHash = "" // clear password hash before returning

	return id, nil
}

// SendVerificationEmail issues a fresh verification token and mails it.
func (svc *Service) SendVerificationEmail(ctx context.Context, uid string) error {
	id, err := svc.userRepo.Find(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}

	token, err := svc.issueToken(ctx, uid, TokenPurposeVerifyEmail, verificationTokenDuration)
	if err != nil {
		return err
	}

	err = svc.mailer.SendVerificationEmail(ctx, id.Email, token.ID)
	if err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	return nil
}

// ConfirmVerification marks the identity verified from an emailed token and
// pushes an identity-changed notification, which is how sessions observe the
// unverified → verified transition.
func (svc *Service) ConfirmVerification(ctx context.Context, tokenID string) (*Identity, error) {
	token, err := svc.consumeToken(ctx, tokenID, TokenPurposeVerifyEmail)
	if err != nil {
		return nil, err
	}

	id, err := svc.userRepo.Find(ctx, token.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	id.EmailVerified = true

	err = svc.userRepo.Update(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}

	svc.emit(id)

	return id, nil
}

// SendPasswordResetEmail issues a reset token for the account with the given
// email.
func (svc *Service) SendPasswordResetEmail(ctx context.Context, email string) error {
	id, err := svc.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find identity by email: %w", err)
	}

	token, err := svc.issueToken(ctx, id.UID, TokenPurposeResetPassword, passwordResetTokenDuration)
	if err != nil {
		return err
	}

	err = svc.mailer.SendPasswordResetEmail(ctx, id.Email, token.ID)
	if err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}

	return nil
}

// ResetPassword sets a new password from an emailed token and revokes every
// open session of that identity.
func (svc *Service) ResetPassword(ctx context.Context, tokenID, newPassword string) error {
	err := validatePassword(newPassword)
	if err != nil {
		return err
	}

	token, err := svc.consumeToken(ctx, tokenID, TokenPurposeResetPassword)
	if err != nil {
		return err
	}

	id, err := svc.userRepo.Find(ctx, token.UID)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	id.PasswordHash = passwordHash

	err = svc.userRepo.Update(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}

	err = svc.sessionRepo.DeleteByUser(ctx, id.UID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	return nil
}

// UpdateProfile changes display name and photo and pushes an
// identity-changed notification. The caller is responsible for cascading the
// denormalized copies on existing comments.
func (svc *Service) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) (*Identity, error) {
	id, err := svc.userRepo.Find(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	id.DisplayName = displayName
	id.PhotoURL = photoURL

	err = svc.userRepo.Update(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}

	svc.emit(id)

	return id, nil
}

// DeleteCurrentIdentity removes the account behind the session. The sign-in
// must be recent; otherwise a StaleSessionError asks the caller to
// re-authenticate, and nothing is changed.
func (svc *Service) DeleteCurrentIdentity(ctx context.Context, sessionID string) error {
	sess, err := svc.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if time.Since(sess.CreatedAt) > recentLoginWindow {
		return &StaleSessionError{SessionID: sessionID}
	}

	err = svc.sessionRepo.DeleteByUser(ctx, sess.UID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	err = svc.userRepo.Delete(ctx, sess.UID)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	svc.emit(nil)

	return nil
}

func (svc *Service) issueToken(ctx context.Context, uid string, purpose TokenPurpose, duration time.Duration) (*Token, error) {
	timeNow := time.Now()

	token := &Token{
		ID:        uuid.NewString(),
		UID:       uid,
		Purpose:   purpose,
		CreatedAt: timeNow,
		ExpiresAt: timeNow.Add(duration),
	}

	err := svc.tokenRepo.Insert(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s token: %w", purpose, err)
	}

	return token, nil
}

func (svc *Service) consumeToken(ctx context.Context, tokenID string, purpose TokenPurpose) (*Token, error) {
	token, err := svc.tokenRepo.Find(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	if token.Purpose != purpose {
		return nil, &TokenNotFoundError{ID: tokenID}
	}

	if token.ExpiresAt.Before(time.Now()) {
		return nil, &TokenExpiredError{ID: tokenID}
	}

	err = svc.tokenRepo.Delete(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete token: %w", err)
	}

	return token, nil
}
