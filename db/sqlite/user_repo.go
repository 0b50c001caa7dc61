package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"maru/identity"
)

const tableUsers = "users"

type UserRepository struct {
	db *sql.DB
}

var _ identity.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const (
	userFieldUID           = "uid"
	userFieldEmail         = "email"
	userFieldDisplayName   = "display_name"
	userFieldPhotoURL      = "photo_url"
	userFieldEmailVerified = "email_verified"
	userFieldProviderID    = "provider_id"
	userFieldPasswordHash  = "password_hash"
	userFieldRegisteredAt  = "registered_at"
)

func userColumns() []string {
	return []string{
		userFieldUID,
		userFieldEmail,
		userFieldDisplayName,
		userFieldPhotoURL,
		userFieldEmailVerified,
		userFieldProviderID,
		userFieldPasswordHash,
		userFieldRegisteredAt,
	}
}

func scanUser(row sq.RowScanner) (*identity.Identity, error) {
	var user identity.Identity

	err := row.Scan(
		&user.UID,
		&user.Email,
		&user.DisplayName,
		&user.PhotoURL,
		&user.EmailVerified,
		&user.ProviderID,
		&user.PasswordHash,
		&user.RegisteredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return &user, nil
}

func (repo *UserRepository) Insert(ctx context.Context, user *identity.Identity) error {
	q := sq.Insert(tableUsers).
		Columns(userColumns()...).
		Values(
			user.UID,
			user.Email,
			user.DisplayName,
			user.PhotoURL,
			user.EmailVerified,
			user.ProviderID,
			user.PasswordHash,
			user.RegisteredAt,
		)

	q = q.RunWith(repo.db)

	_, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec insert: %w", err)
	}

	return nil
}

func (repo *UserRepository) Find(ctx context.Context, uid string) (*identity.Identity, error) {
	q := sq.Select(userColumns()...).
		From(tableUsers).
		Where(sq.Eq{userFieldUID: uid})

	q = q.RunWith(repo.db)

	row := q.QueryRowContext(ctx)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &identity.UserNotFoundError{UID: uid}
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return user, nil
}

func (repo *UserRepository) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	q := sq.Select(userColumns()...).
		From(tableUsers).
		Where(sq.Eq{userFieldEmail: email})

	q = q.RunWith(repo.db)

	row := q.QueryRowContext(ctx)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &identity.UserByEmailNotFoundError{Email: email}
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return user, nil
}

func (repo *UserRepository) Update(ctx context.Context, user *identity.Identity) error {
	q := sq.Update(tableUsers).
		SetMap(map[string]any{
			userFieldEmail:         user.Email,
			userFieldDisplayName:   user.DisplayName,
			userFieldPhotoURL:      user.PhotoURL,
			userFieldEmailVerified: user.EmailVerified,
			userFieldProviderID:    user.ProviderID,
			userFieldPasswordHash:  user.PasswordHash,
		}).
		Where(sq.Eq{userFieldUID: user.UID})

	q = q.RunWith(repo.db)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &identity.UserNotFoundError{UID: user.UID}
	}

	return nil
}

func (repo *UserRepository) Delete(ctx context.Context, uid string) error {
	q := sq.Delete(tableUsers).
		Where(sq.Eq{userFieldUID: uid})

	q = q.RunWith(repo.db)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &identity.UserNotFoundError{UID: uid}
	}

	return nil
}
