package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"maru/board"
	"maru/comment"
)

const tableComments = "comments"

// CommentStore persists comments and feeds live subscriptions. After every
// successful mutation the complete result set of each affected board is
// re-queried and pushed to that board's watchers; subscribers never receive
// incremental diffs.
type CommentStore struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[board.ID]map[*subscription]struct{}
}

var (
	_ comment.Store   = (*CommentStore)(nil)
	_ comment.Watcher = (*CommentStore)(nil)
)

func NewCommentStore(db *sql.DB) *CommentStore {
	return &CommentStore{
		db:   db,
		subs: make(map[board.ID]map[*subscription]struct{}),
	}
}

const (
	commentFieldID          = "id"
	commentFieldBoardID     = "board_id"
	commentFieldParentID    = "parent_id"
	commentFieldAuthorUID   = "author_uid"
	commentFieldAuthorName  = "author_name"
	commentFieldAuthorPhoto = "author_photo"
	commentFieldContent     = "content"
	commentFieldLikes       = "likes"
	commentFieldCreatedAt   = "created_at"
)

func commentColumns() []string {
	return []string{
		commentFieldID,
		commentFieldBoardID,
		commentFieldParentID,
		commentFieldAuthorUID,
		commentFieldAuthorName,
		commentFieldAuthorPhoto,
		commentFieldContent,
		commentFieldLikes,
		commentFieldCreatedAt,
	}
}

func scanComment(row sq.RowScanner) (*comment.Comment, error) {
	var (
		c        comment.Comment
		likesRaw string
	)

	err := row.Scan(
		&c.ID,
		&c.BoardID,
		&c.ParentID,
		&c.AuthorUID,
		&c.AuthorName,
		&c.AuthorPhoto,
		&c.Content,
		&likesRaw,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	err = json.Unmarshal([]byte(likesRaw), &c.Likes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal likes: %w", err)
	}

	return &c, nil
}

func marshalLikes(likes []string) (string, error) {
	if likes == nil {
		likes = []string{}
	}

	raw, err := json.Marshal(likes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal likes: %w", err)
	}

	return string(raw), nil
}

func (store *CommentStore) Insert(ctx context.Context, c *comment.Comment) error {
	likesRaw, err := marshalLikes(c.Likes)
	if err != nil {
		return err
	}

	q := sq.Insert(tableComments).
		Columns(commentColumns()...).
		Values(
			c.ID,
			c.BoardID,
			c.ParentID,
			c.AuthorUID,
			c.AuthorName,
			c.AuthorPhoto,
			c.Content,
			likesRaw,
			c.CreatedAt,
		)

	q = q.RunWith(store.db)

	_, err = q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec insert: %w", err)
	}

	store.notifyBoards(ctx, c.BoardID)

	return nil
}

func setMapForFields(fields comment.Fields) (map[string]any, error) {
	setMap := make(map[string]any)

	if fields.Content != nil {
		setMap[commentFieldContent] = *fields.Content
	}

	if fields.AuthorName != nil {
		setMap[commentFieldAuthorName] = *fields.AuthorName
	}

	if fields.AuthorPhoto != nil {
		setMap[commentFieldAuthorPhoto] = *fields.AuthorPhoto
	}

	if fields.Likes != nil {
		likesRaw, err := marshalLikes(*fields.Likes)
		if err != nil {
			return nil, err
		}

		setMap[commentFieldLikes] = likesRaw
	}

	return setMap, nil
}

func (store *CommentStore) Update(ctx context.Context, id string, fields comment.Fields) error {
	setMap, err := setMapForFields(fields)
	if err != nil {
		return err
	}

	if len(setMap) == 0 {
		return nil
	}

	boardID, err := store.boardOf(ctx, id)
	if err != nil {
		return err
	}

	q := sq.Update(tableComments).
		SetMap(setMap).
		Where(sq.Eq{commentFieldID: id})

	q = q.RunWith(store.db)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &comment.NotFoundError{ID: id}
	}

	store.notifyBoards(ctx, boardID)

	return nil
}

func (store *CommentStore) Delete(ctx context.Context, id string) error {
	boardID, err := store.boardOf(ctx, id)
	if err != nil {
		return err
	}

	q := sq.Delete(tableComments).
		Where(sq.Eq{commentFieldID: id})

	q = q.RunWith(store.db)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &comment.NotFoundError{ID: id}
	}

	store.notifyBoards(ctx, boardID)

	return nil
}

func (store *CommentStore) BatchUpdate(ctx context.Context, updates []comment.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ids := make([]string, 0, len(updates))
	for _, upd := range updates {
		ids = append(ids, upd.ID)
	}

	boards, err := store.boardsOf(ctx, ids)
	if err != nil {
		return err
	}

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	defer rollback(ctx, tx)

	for _, upd := range updates {
		setMap, err := setMapForFields(upd.Fields)
		if err != nil {
			return err
		}

		if len(setMap) == 0 {
			continue
		}

		q := sq.Update(tableComments).
			SetMap(setMap).
			Where(sq.Eq{commentFieldID: upd.ID})

		q = q.RunWith(tx)

		_, err = q.ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to exec update: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	store.notifyBoards(ctx, boards...)

	return nil
}

func (store *CommentStore) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	boards, err := store.boardsOf(ctx, ids)
	if err != nil {
		return err
	}

	q := sq.Delete(tableComments).
		Where(sq.Eq{commentFieldID: ids})

	q = q.RunWith(store.db)

	_, err = q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec delete: %w", err)
	}

	store.notifyBoards(ctx, boards...)

	return nil
}

func (store *CommentStore) Find(ctx context.Context, id string) (*comment.Comment, error) {
	q := sq.Select(commentColumns()...).
		From(tableComments).
		Where(sq.Eq{commentFieldID: id})

	q = q.RunWith(store.db)

	row := q.QueryRowContext(ctx)

	c, err := scanComment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &comment.NotFoundError{ID: id}
		}

		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}

	return c, nil
}

func (store *CommentStore) ListByBoard(ctx context.Context, boardID board.ID) ([]*comment.Comment, error) {
	return store.list(ctx, sq.Eq{commentFieldBoardID: boardID})
}

func (store *CommentStore) ListByAuthor(ctx context.Context, authorUID string) ([]*comment.Comment, error) {
	return store.list(ctx, sq.Eq{commentFieldAuthorUID: authorUID})
}

func (store *CommentStore) list(ctx context.Context, where sq.Eq) ([]*comment.Comment, error) {
	query := sq.Select(commentColumns()...).
		From(tableComments).
		Where(where).
		OrderBy(commentFieldCreatedAt+" ASC", commentFieldID+" ASC")

	query = query.RunWith(store.db)

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			slog.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	comments := make([]*comment.Comment, 0)

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment failed: %w", err)
		}

		comments = append(comments, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return comments, nil
}

func (store *CommentStore) boardOf(ctx context.Context, id string) (board.ID, error) {
	q := sq.Select(commentFieldBoardID).
		From(tableComments).
		Where(sq.Eq{commentFieldID: id})

	q = q.RunWith(store.db)

	var boardID board.ID

	err := q.QueryRowContext(ctx).Scan(&boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", &comment.NotFoundError{ID: id}
		}

		return "", fmt.Errorf("failed to scan board id: %w", err)
	}

	return boardID, nil
}

func (store *CommentStore) boardsOf(ctx context.Context, ids []string) ([]board.ID, error) {
	q := sq.Select("DISTINCT " + commentFieldBoardID).
		From(tableComments).
		Where(sq.Eq{commentFieldID: ids})

	q = q.RunWith(store.db)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			slog.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var boards []board.ID

	for rows.Next() {
		var boardID board.ID

		err := rows.Scan(&boardID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board id: %w", err)
		}

		boards = append(boards, boardID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return boards, nil
}

func rollback(ctx context.Context, tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "failed to rollback tx", "error", err)
	}
}
