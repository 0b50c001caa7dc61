package comment

import (
	"context"
	"fmt"
	"slices"
	"time"

	"maru/board"
)

// Comment is a single board comment as persisted by the store. AuthorName and
// AuthorPhoto are denormalized copies of the author's profile taken at post
// time; they drift until an explicit profile save rewrites them.
type Comment struct {
	ID          string
	BoardID     board.ID
	ParentID    *string
	AuthorUID   string
	AuthorName  string
	AuthorPhoto string
	Content     string
	Likes       []string
	CreatedAt   time.Time
}

// IsRoot reports whether the comment is a top-level post rather than a reply.
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

func (c *Comment) LikedBy(uid string) bool {
	return slices.Contains(c.Likes, uid)
}

// ToggledLikes returns the likes set with uid's membership flipped. The
// result is a new slice; membership stays unique.
func ToggledLikes(likes []string, uid string) []string {
	if slices.Contains(likes, uid) {
		out := make([]string, 0, len(likes))

		for _, id := range likes {
			if id != uid {
				out = append(out, id)
			}
		}

		return out
	}

	out := make([]string, 0, len(likes)+1)
	out = append(out, likes...)
	out = append(out, uid)

	return out
}

// Fields is a partial update. Nil members are left untouched by the store.
type Fields struct {
	Content     *string
	AuthorName  *string
	AuthorPhoto *string
	Likes       *[]string
}

// FieldUpdate pairs a comment id with the fields to rewrite, for batch
// updates such as the profile denormalization cascade.
type FieldUpdate struct {
	ID     string
	Fields Fields
}

// Store is the document-store collaborator. Every mutation that succeeds
// results in a fresh full snapshot being pushed to watchers of the affected
// board(s); callers never mutate their local view optimistically.
type Store interface {
	Insert(ctx context.Context, c *Comment) (err error)
	Update(ctx context.Context, id string, fields Fields) (err error)
	Delete(ctx context.Context, id string) (err error)
	BatchUpdate(ctx context.Context, updates []FieldUpdate) (err error)
	BatchDelete(ctx context.Context, ids []string) (err error)
	Find(ctx context.Context, id string) (c *Comment, err error)
	ListByBoard(ctx context.Context, boardID board.ID) (comments []*Comment, err error)
	ListByAuthor(ctx context.Context, authorUID string) (comments []*Comment, err error)
}

// Subscription is a live query over one board. Snapshots delivers the
// complete current result set on every matching change; there is no
// incremental diff contract. Close releases the subscription and must be
// called before a new one is opened for another board.
type Subscription interface {
	Snapshots() <-chan []*Comment
	Close()
}

// Watcher opens live subscriptions. Implemented by the sqlite store.
type Watcher interface {
	Watch(ctx context.Context, boardID board.ID) (sub Subscription, err error)
}

type NotFoundError struct {
	ID string
}

func (err NotFoundError) Error() string {
	return fmt.Sprintf("comment with id %q not found", err.ID)
}
