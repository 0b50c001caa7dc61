package feed

import (
	"context"
	"fmt"
	"sync"

	"maru/board"
	"maru/comment"
)

// Projection is the client-side view of one board's comment feed. It owns
// exactly one live subscription at a time and rebuilds its row set wholesale
// from every snapshot the store pushes; no partial update path exists.
type Projection struct {
	watcher comment.Watcher

	mu        sync.Mutex
	boardID   board.ID
	sub       comment.Subscription
	rows      []Row
	listeners []func(boardID board.ID, rows []Row)
}

func NewProjection(watcher comment.Watcher) *Projection {
	return &Projection{watcher: watcher}
}

// SwitchBoard retargets the projection. The previous subscription is closed
// before the new one is opened so a stale subscription can never push into a
// torn-down tree.
func (p *Projection) SwitchBoard(ctx context.Context, boardID board.ID) error {
	if !boardID.IsValid() {
		return &board.InvalidBoardError{ID: boardID}
	}

	p.mu.Lock()

	if p.sub != nil {
		p.sub.Close()
		p.sub = nil
	}

	p.boardID = boardID
	p.rows = nil
	p.mu.Unlock()

	sub, err := p.watcher.Watch(ctx, boardID)
	if err != nil {
		return fmt.Errorf("failed to watch board %q: %w", boardID, err)
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	go p.consume(sub, boardID)

	return nil
}

func (p *Projection) consume(sub comment.Subscription, boardID board.ID) {
	for snapshot := range sub.Snapshots() {
		rows := BuildRows(snapshot)

		p.mu.Lock()

		if p.sub != sub {
			// Superseded by a board switch while the snapshot was in
			// flight; drop it.
			p.mu.Unlock()

			return
		}

		p.rows = rows
		listeners := make([]func(board.ID, []Row), len(p.listeners))
		copy(listeners, p.listeners)
		p.mu.Unlock()

		for _, fn := range listeners {
			fn(boardID, rows)
		}
	}
}

// Board returns the currently active board identifier.
func (p *Projection) Board() board.ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.boardID
}

// Rows returns the latest built row set.
func (p *Projection) Rows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rows
}

// OnRender registers a listener invoked after every rebuild. Listeners run
// on the subscription goroutine and must not block.
func (p *Projection) OnRender(fn func(boardID board.ID, rows []Row)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners = append(p.listeners, fn)
}

// Close releases the active subscription, if any.
func (p *Projection) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		p.sub.Close()
		p.sub = nil
	}
}
