package discuss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maru/authorization"
	"maru/board"
	"maru/comment"
	"maru/session"
)

// Objects and actions in the authorization domain.
const (
	ObjectComments = "comments"

	ActionLike     = "like"
	ActionModerate = "moderate"
)

var (
	// ErrSignInRequired is returned when an anonymous caller attempts an
	// operation that needs a signed-in identity. Callers surface it as a
	// redirect to login.
	ErrSignInRequired = errors.New("sign in required")

	// ErrVerificationRequired is returned when an unverified identity
	// attempts to post or reply.
	ErrVerificationRequired = errors.New("email verification required")

	ErrEmptyContent = errors.New("comment content is empty")
)

type NotCommentOwnerError struct {
	CommentID string
	UID       string
}

func (err NotCommentOwnerError) Error() string {
	return fmt.Sprintf("uid %q does not own comment %q", err.UID, err.CommentID)
}

type CrossBoardReplyError struct {
	ParentID    string
	ParentBoard board.ID
	ReplyBoard  board.ID
}

func (err CrossBoardReplyError) Error() string {
	return fmt.Sprintf(
		"cannot reply on board %q to parent comment %q on board %q",
		err.ReplyBoard,
		err.ParentID,
		err.ParentBoard,
	)
}

type SelfModerationError struct {
	UID string
}

func (err SelfModerationError) Error() string {
	return fmt.Sprintf("administrator %q cannot bulk-delete their own comments with moderation", err.UID)
}

// Service owns every comment mutation. All writes go through the store,
// which pushes fresh board snapshots to watchers; the service never touches
// feed state directly.
type Service struct {
	store       comment.Store
	authzClient *authorization.Client
}

func NewService(store comment.Store, authzClient *authorization.Client) *Service {
	return &Service{
		store:       store,
		authzClient: authzClient,
	}
}

type CreateCommentRequest struct {
	BoardID  board.ID
	ParentID string
	Content  string
}

// CreateComment posts a root comment or a reply as the given actor. Posting
// requires a verified identity; author name and photo are denormalized onto
// the comment at this moment.
func (svc *Service) CreateComment(
	ctx context.Context,
	actor session.Snapshot,
	req CreateCommentRequest,
) (*comment.Comment, error) {
	if actor.State == session.StateAnonymous {
		return nil, ErrSignInRequired
	}

	if !actor.CanPost() {
		return nil, ErrVerificationRequired
	}

	if !req.BoardID.IsValid() {
		return nil, &board.InvalidBoardError{ID: req.BoardID}
	}

	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	var parentID *string

	if req.ParentID != "" {
		parent, err := svc.store.Find(ctx, req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to find parent comment: %w", err)
		}

		if parent.BoardID != req.BoardID {
			return nil, &CrossBoardReplyError{
				ParentID:    parent.ID,
				ParentBoard: parent.BoardID,
				ReplyBoard:  req.BoardID,
			}
		}

		parentID = &parent.ID
	}

	cmt := &comment.Comment{
		ID:          uuid.NewString(),
		BoardID:     req.BoardID,
		ParentID:    parentID,
		AuthorUID:   actor.Identity.UID,
		AuthorName:  actor.Identity.DisplayName,
		AuthorPhoto: actor.Identity.PhotoURL,
		Content:     req.Content,
		Likes:       []string{},
		CreatedAt:   time.Now(),
	}

	err := svc.store.Insert(ctx, cmt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", err)
	}

	return cmt, nil
}

// EditComment rewrites the content of a comment the actor owns. Author
// fields, likes, and timestamps are never editable.
func (svc *Service) EditComment(ctx context.Context, actor session.Snapshot, commentID, content string) error {
	if actor.State == session.StateAnonymous {
		return ErrSignInRequired
	}

	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	cmt, err := svc.store.Find(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to find comment: %w", err)
	}

	if cmt.AuthorUID != actor.UID() {
		return &NotCommentOwnerError{CommentID: commentID, UID: actor.UID()}
	}

	err = svc.store.Update(ctx, commentID, comment.Fields{Content: &content})
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}

	return nil
}

// DeleteComment removes a single comment the actor owns. Replies are not
// cascaded; they are re-parented to the root level by the feed when their
// parent disappears.
func (svc *Service) DeleteComment(ctx context.Context, actor session.Snapshot, commentID string) error {
	if actor.State == session.StateAnonymous {
		return ErrSignInRequired
	}

	cmt, err := svc.store.Find(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to find comment: %w", err)
	}

	if cmt.AuthorUID != actor.UID() {
		return &NotCommentOwnerError{CommentID: commentID, UID: actor.UID()}
	}

	err = svc.store.Delete(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	return nil
}

// ToggleLike flips the actor's membership in the comment's likes set. Any
// signed-in identity may like, verified or not; anonymous callers get
// ErrSignInRequired.
func (svc *Service) ToggleLike(ctx context.Context, actor session.Snapshot, commentID string) error {
	if !actor.CanLike() {
		return ErrSignInRequired
	}

	err := svc.authzClient.CheckAccess(ctx, actor.UID(), ObjectComments, ActionLike)
	if err != nil {
		return fmt.Errorf("failed to check authorization: %w", err)
	}

	cmt, err := svc.store.Find(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to find comment: %w", err)
	}

	likes := comment.ToggledLikes(cmt.Likes, actor.UID())

	err = svc.store.Update(ctx, commentID, comment.Fields{Likes: &likes})
	if err != nil {
		return fmt.Errorf("failed to update likes: %w", err)
	}

	return nil
}

// DeleteAllByAuthor removes every comment by the target author across all
// boards. Moderation only: the actor needs the moderate capability and may
// not target themselves through this path.
func (svc *Service) DeleteAllByAuthor(ctx context.Context, actor session.Snapshot, targetUID string) (int, error) {
	if actor.State == session.StateAnonymous {
		return 0, ErrSignInRequired
	}

	err := svc.authzClient.CheckAccess(ctx, actor.UID(), ObjectComments, ActionModerate)
	if err != nil {
		return 0, fmt.Errorf("failed to check authorization: %w", err)
	}

	if targetUID == actor.UID() {
		return 0, &SelfModerationError{UID: actor.UID()}
	}

	comments, err := svc.store.ListByAuthor(ctx, targetUID)
	if err != nil {
		return 0, fmt.Errorf("failed to list comments by author: %w", err)
	}

	if len(comments) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(comments))
	for _, cmt := range comments {
		ids = append(ids, cmt.ID)
	}

	err = svc.store.BatchDelete(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to batch delete comments: %w", err)
	}

	return len(ids), nil
}

// SyncAuthorProfile rewrites the denormalized author name and photo on every
// comment by uid. Called after a profile save; until then existing comments
// keep the stale copies.
func (svc *Service) SyncAuthorProfile(ctx context.Context, uid, displayName, photoURL string) (int, error) {
	comments, err := svc.store.ListByAuthor(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to list comments by author: %w", err)
	}

	if len(comments) == 0 {
		return 0, nil
	}

	updates := make([]comment.FieldUpdate, 0, len(comments))

	for _, cmt := range comments {
		name := displayName
		photo := photoURL

		updates = append(updates, comment.FieldUpdate{
			ID: cmt.ID,
			Fields: comment.Fields{
				AuthorName:  &name,
				AuthorPhoto: &photo,
			},
		})
	}

	err = svc.store.BatchUpdate(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("failed to batch update comments: %w", err)
	}

	return len(updates), nil
}

// ListBoard returns the full current result set for a board, newest first by
// insertion order of the store query.
func (svc *Service) ListBoard(ctx context.Context, boardID board.ID) ([]*comment.Comment, error) {
	if !boardID.IsValid() {
		return nil, &board.InvalidBoardError{ID: boardID}
	}

	comments, err := svc.store.ListByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	return comments, nil
}
