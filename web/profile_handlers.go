package web

import (
	"log/slog"
	"net/http"

	"maru/session"
)

// HandleSaveProfile updates the identity's display name and photo, then
// rewrites the denormalized author copies on all existing comments. The save
// is the only thing that refreshes those copies.
func (h *Handler) HandleSaveProfile() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DisplayName string `json:"displayName"`
			PhotoURL    string `json:"photoUrl"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		snapshot := snapshotFromRequest(r)

		id, err := h.identitySvc.UpdateProfile(r.Context(), snapshot.UID(), req.DisplayName, req.PhotoURL)
		if err != nil {
			writeError(w, r, err)

			return
		}

		synced, err := h.discussSvc.SyncAuthorProfile(r.Context(), id.UID, id.DisplayName, id.PhotoURL)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"identity":       identityToPayload(id),
			"commentsSynced": synced,
		})
	})
}

// HandleDeleteAccount removes the signed-in account. The identity provider
// demands a recent sign-in; a stale one surfaces as a re-login prompt with
// nothing changed. Comments are left in place.
func (h *Handler) HandleDeleteAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := session.SessionIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		err := h.identitySvc.DeleteCurrentIdentity(r.Context(), sessionID)
		if err != nil {
			writeError(w, r, err)

			return
		}

		err = h.clearSessionID(w, r)
		if err != nil {
			slog.ErrorContext(r.Context(), "error on clearing session cookie", "error", err)
			http.Error(w, "error on clearing session cookie", http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
