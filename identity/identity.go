package identity

import (
	"context"
	"fmt"
	"time"
)

// Provider ids as reported on the identity. Federated identities are treated
// as pre-verified.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// Identity is an account as the identity provider sees it. Consumers treat
// it as read-only input except for the explicit profile-save and
// account-delete flows.
type Identity struct {
	UID           string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	ProviderID    string
	PasswordHash  string
	RegisteredAt  time.Time
}

// IsVerified reports whether the identity may post: either the provider has
// confirmed the email, or the identity came from a federated sign-in.
func (id *Identity) IsVerified() bool {
	return id.EmailVerified || id.ProviderID == ProviderGoogle
}

type UserRepository interface {
	Insert(ctx context.Context, identity *Identity) (err error)
	Find(ctx context.Context, uid string) (identity *Identity, err error)
	FindByEmail(ctx context.Context, email string) (identity *Identity, err error)
	Update(ctx context.Context, identity *Identity) (err error)
	Delete(ctx context.Context, uid string) (err error)
}

// Session is a server-side sign-in. CreatedAt doubles as the recency anchor
// for operations that require a fresh sign-in.
type Session struct {
	ID        string
	UID       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type SessionRepository interface {
	Insert(ctx context.Context, session *Session) (err error)
	Find(ctx context.Context, id string) (session *Session, err error)
	Delete(ctx context.Context, id string) (err error)
	DeleteByUser(ctx context.Context, uid string) (err error)
}

type TokenPurpose string

const (
	TokenPurposeVerifyEmail   TokenPurpose = "verify_email"
	TokenPurposeResetPassword TokenPurpose = "reset_password"
)

// Token is a single-use email token for verification or password reset.
type Token struct {
	ID        string
	UID       string
	Purpose   TokenPurpose
	CreatedAt time.Time
	ExpiresAt time.Time
}

type TokenRepository interface {
	Insert(ctx context.Context, token *Token) (err error)
	Find(ctx context.Context, id string) (token *Token, err error)
	Delete(ctx context.Context, id string) (err error)
}

// Mailer delivers the provider's outbound mail. Implementations must not
// block the calling request.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

type UserNotFoundError struct {
	UID string
}

func (err UserNotFoundError) Error() string {
	return fmt.Sprintf("user with uid %q not found", err.UID)
}

type UserByEmailNotFoundError struct {
	Email string
}

func (err UserByEmailNotFoundError) Error() string {
	return fmt.Sprintf("user with email %q not found", err.Email)
}

type EmailAlreadyRegisteredError struct {
	Email string
}

func (err EmailAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("email %q is already registered", err.Email)
}

type MalformedEmailError struct {
	Email string
}

func (err MalformedEmailError) Error() string {
	return fmt.Sprintf("email %q is malformed", err.Email)
}

type WeakPasswordError struct {
	MinLength int
}

func (err WeakPasswordError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", err.MinLength)
}

type SessionNotFoundError struct {
	ID string
}

func (err SessionNotFoundError) Error() string {
	return fmt.Sprintf("session with id %q not found", err.ID)
}

type SessionExpiredError struct {
	ID string
}

func (err SessionExpiredError) Error() string {
	return fmt.Sprintf("session with id %q has expired", err.ID)
}

// StaleSessionError is returned when an operation needs a recent sign-in,
// such as account deletion. Callers surface it as a re-login prompt.
type StaleSessionError struct {
	SessionID string
}

func (err StaleSessionError) Error() string {
	return fmt.Sprintf("session %q is too old for this operation, re-authentication required", err.SessionID)
}

// RateLimitedError is returned when sign-in attempts for an email come in
// faster than the limiter allows.
type RateLimitedError struct {
	Email string
}

func (err RateLimitedError) Error() string {
	return fmt.Sprintf("too many sign-in attempts for %q, try again later", err.Email)
}

type TokenNotFoundError struct {
	ID string
}

func (err TokenNotFoundError) Error() string {
	return fmt.Sprintf("token with id %q not found", err.ID)
}

type TokenExpiredError struct {
	ID string
}

func (err TokenExpiredError) Error() string {
	return fmt.Sprintf("token with id %q has expired", err.ID)
}
