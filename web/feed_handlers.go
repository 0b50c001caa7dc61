package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"maru/board"
	"maru/feed"
)

type rowPayload struct {
	ID          string    `json:"id"`
	BoardID     board.ID  `json:"boardId"`
	ParentID    *string   `json:"parentId,omitempty"`
	AuthorUID   string    `json:"authorUid"`
	AuthorName  string    `json:"authorName"`
	AuthorPhoto string    `json:"authorPhoto,omitempty"`
	Mention     string    `json:"mention,omitempty"`
	Body        string    `json:"body"`
	Likes       []string  `json:"likes"`
	LikeCount   int       `json:"likeCount"`
	Depth       int       `json:"depth"`
	Indent      int       `json:"indent"`
	Orphaned    bool      `json:"orphaned,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func rowsToPayload(rows []feed.Row) []rowPayload {
	out := make([]rowPayload, 0, len(rows))

	for _, row := range rows {
		c := row.Comment

		out = append(out, rowPayload{
			ID:          c.ID,
			BoardID:     c.BoardID,
			ParentID:    c.ParentID,
			AuthorUID:   c.AuthorUID,
			AuthorName:  c.AuthorName,
			AuthorPhoto: c.AuthorPhoto,
			Mention:     row.Mention,
			Body:        row.Body,
			Likes:       c.Likes,
			LikeCount:   len(c.Likes),
			Depth:       row.Depth,
			Indent:      row.Indent,
			Orphaned:    row.Orphaned,
			CreatedAt:   c.CreatedAt,
		})
	}

	return out
}

func (h *Handler) HandleListBoards() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]any{"boards": board.All()})
	})
}

// HandleBoardFeed returns the complete rendered thread for a board: one row
// per comment in display order.
func (h *Handler) HandleBoardFeed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boardID := board.ID(r.PathValue("board"))

		comments, err := h.discussSvc.ListBoard(r.Context(), boardID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"board": boardID,
			"rows":  rowsToPayload(feed.BuildRows(comments)),
		})
	})
}

// HandleBoardLive streams the board's thread over server-sent events. Each
// connection owns one feed projection; every event carries the projection's
// complete rebuilt row set and the client replaces its view wholesale.
func (h *Handler) HandleBoardLive() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boardID := board.ID(r.PathValue("board"))

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)

			return
		}

		proj := feed.NewProjection(h.watcher)
		defer proj.Close()

		// Latest-wins hand-off from the render listener to the write loop;
		// a slow client only ever misses intermediate row sets.
		renders := make(chan []feed.Row, 1)
		proj.OnRender(func(_ board.ID, rows []feed.Row) {
			for {
				select {
				case renders <- rows:
					return
				default:
					select {
					case <-renders:
					default:
					}
				}
			}
		})

		err := proj.SwitchBoard(r.Context(), boardID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case rows := <-renders:
				err := writeSSEEvent(w, boardID, rows)
				if err != nil {
					slog.ErrorContext(r.Context(), "failed to write sse event", "board", boardID, "error", err)

					return
				}

				flusher.Flush()
			}
		}
	})
}

func writeSSEEvent(w http.ResponseWriter, boardID board.ID, rows []feed.Row) error {
	payload, err := json.Marshal(map[string]any{
		"board": boardID,
		"rows":  rowsToPayload(rows),
	})
	if err != nil {
		return err
	}

	_, err = w.Write([]byte("event: feed\ndata: " + string(payload) + "\n\n"))

	return err
}
