package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"maru/board"
	"maru/comment"
)

// subscription is one live query over a single board. The channel carries
// full result sets with a buffer of one; when the consumer lags, older
// snapshots are dropped so only the latest is delivered.
type subscription struct {
	store   *CommentStore
	boardID board.ID
	ch      chan []*comment.Comment
	closed  bool
}

var _ comment.Subscription = (*subscription)(nil)

func (sub *subscription) Snapshots() <-chan []*comment.Comment {
	return sub.ch
}

func (sub *subscription) Close() {
	sub.store.unsubscribe(sub)
}

// push delivers a snapshot latest-wins. Callers hold the store mutex, which
// keeps push and Close from racing on the channel.
func (sub *subscription) push(snapshot []*comment.Comment) {
	for {
		select {
		case sub.ch <- snapshot:
			return
		default:
		}

		select {
		case <-sub.ch:
		default:
		}
	}
}

// Watch opens a live subscription on a board. The current result set is
// delivered immediately; every subsequent mutation on the board delivers a
// fresh complete set.
func (store *CommentStore) Watch(ctx context.Context, boardID board.ID) (comment.Subscription, error) {
	if !boardID.IsValid() {
		return nil, &board.InvalidBoardError{ID: boardID}
	}

	snapshot, err := store.ListByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial snapshot: %w", err)
	}

	sub := &subscription{
		store:   store,
		boardID: boardID,
		ch:      make(chan []*comment.Comment, 1),
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	subs, ok := store.subs[boardID]
	if !ok {
		subs = make(map[*subscription]struct{})
		store.subs[boardID] = subs
	}

	subs[sub] = struct{}{}

	sub.push(snapshot)

	return sub, nil
}

func (store *CommentStore) unsubscribe(sub *subscription) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if sub.closed {
		return
	}

	sub.closed = true

	delete(store.subs[sub.boardID], sub)
	close(sub.ch)
}

// notifyBoards re-queries each board's full result set and pushes it to that
// board's subscribers. Boards with no subscribers are skipped without a
// query.
func (store *CommentStore) notifyBoards(ctx context.Context, boards ...board.ID) {
	for _, boardID := range boards {
		store.mu.Lock()
		hasSubs := len(store.subs[boardID]) > 0
		store.mu.Unlock()

		if !hasSubs {
			continue
		}

		snapshot, err := store.ListByBoard(ctx, boardID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load snapshot for watchers", "board", boardID, "error", err)

			continue
		}

		store.mu.Lock()

		for sub := range store.subs[boardID] {
			sub.push(snapshot)
		}

		store.mu.Unlock()
	}
}
