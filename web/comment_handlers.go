package web

import (
	"net/http"

	"maru/board"
	"maru/discuss"
)

func (h *Handler) HandleCreateComment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boardID := board.ID(r.PathValue("board"))

		var req struct {
			ParentID string `json:"parentId"`
			Content  string `json:"content"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		cmt, err := h.discussSvc.CreateComment(r.Context(), snapshotFromRequest(r), discuss.CreateCommentRequest{
			BoardID:  boardID,
			ParentID: req.ParentID,
			Content:  req.Content,
		})
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusCreated, map[string]string{"id": cmt.ID})
	})
}

func (h *Handler) HandleEditComment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commentID := r.PathValue("commentId")

		var req struct {
			Content string `json:"content"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		err = h.discussSvc.EditComment(r.Context(), snapshotFromRequest(r), commentID, req.Content)
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *Handler) HandleDeleteComment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commentID := r.PathValue("commentId")

		err := h.discussSvc.DeleteComment(r.Context(), snapshotFromRequest(r), commentID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *Handler) HandleToggleLike() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commentID := r.PathValue("commentId")

		err := h.discussSvc.ToggleLike(r.Context(), snapshotFromRequest(r), commentID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleModerateAuthor bulk-deletes every comment by the target author.
// Authorization is enforced by the discuss service's moderate check.
func (h *Handler) HandleModerateAuthor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetUID := r.PathValue("uid")

		deleted, err := h.discussSvc.DeleteAllByAuthor(r.Context(), snapshotFromRequest(r), targetUID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusOK, map[string]int{"deleted": deleted})
	})
}
