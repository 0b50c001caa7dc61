package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"maru/identity"
)

const tableTokens = "tokens"

type TokenRepository struct {
	db *sql.DB
}

var _ identity.TokenRepository = (*TokenRepository)(nil)

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

const (
	tokenFieldID        = "id"
	tokenFieldUID       = "uid"
	tokenFieldPurpose   = "purpose"
	tokenFieldCreatedAt = "created_at"
	tokenFieldExpiresAt = "expires_at"
)

func tokenColumns() []string {
	return []string{
		tokenFieldID,
		tokenFieldUID,
		tokenFieldPurpose,
		tokenFieldCreatedAt,
		tokenFieldExpiresAt,
	}
}

func scanToken(row sq.RowScanner) (*identity.Token, error) {
	var token identity.Token

	err := row.Scan(
		&token.ID,
		&token.UID,
		&token.Purpose,
		&token.CreatedAt,
		&token.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	return &token, nil
}

func (repo *TokenRepository) Insert(ctx context.Context, token *identity.Token) error {
	q := sq.Insert(tableTokens).
		Columns(tokenColumns()...).
		Values(token.ID, token.UID, token.Purpose, token.CreatedAt, token.ExpiresAt)

	q = q.RunWith(repo.db)

	_, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec insert: %w", err)
	}

	return nil
}

func (repo *TokenRepository) Find(ctx context.Context, id string) (*identity.Token, error) {
	q := sq.Select(tokenColumns()...).
		From(tableTokens).
		Where(sq.Eq{tokenFieldID: id})

	q = q.RunWith(repo.db)

	row := q.QueryRowContext(ctx)

	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &identity.TokenNotFoundError{ID: id}
		}

		return nil, fmt.Errorf("failed to scan token: %w", err)
	}

	return token, nil
}

func (repo *TokenRepository) Delete(ctx context.Context, id string) error {
	q := sq.Delete(tableTokens).
		Where(sq.Eq{tokenFieldID: id})

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
		return &identity.TokenNotFoundError{ID: id}
	}

	return nil
}
