package web

import (
	"log/slog"
	"net/http"

	"maru/identity"
	"maru/session"
)

type identityPayload struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
	ProviderID    string `json:"providerId"`
}

type sessionPayload struct {
	State         session.State    `json:"state"`
	Identity      *identityPayload `json:"identity,omitempty"`
	CanPost       bool             `json:"canPost"`
	CanLike       bool             `json:"canLike"`
	Administrator bool             `json:"administrator"`
}

func identityToPayload(id *identity.Identity) *identityPayload {
	if id == nil {
		return nil
	}

	return &identityPayload{
		UID:           id.UID,
		Email:         id.Email,
		DisplayName:   id.DisplayName,
		PhotoURL:      id.PhotoURL,
		EmailVerified: id.EmailVerified,
		ProviderID:    id.ProviderID,
	}
}

func snapshotToPayload(snapshot session.Snapshot) sessionPayload {
	return sessionPayload{
		State:         snapshot.State,
		Identity:      identityToPayload(snapshot.Identity),
		CanPost:       snapshot.CanPost(),
		CanLike:       snapshot.CanLike(),
		Administrator: snapshot.Capabilities.Administrator,
	}
}

func (h *Handler) HandleCurrentSession() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, snapshotToPayload(snapshotFromRequest(r)))
	})
}

func (h *Handler) HandleRegister() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		id, err := h.identitySvc.Register(r.Context(), req.Email, req.Password, req.DisplayName)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusCreated, identityToPayload(id))
	})
}

func (h *Handler) HandleLogin() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			ReturnTo string `json:"returnTo"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		id, sess, err := h.identitySvc.SignIn(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)

			return
		}

		err = h.storeSessionID(w, r, sess.ID)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to store session id in cookie", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)

			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"identity": identityToPayload(id),
			"returnTo": sanitizeReturnToPath(req.ReturnTo),
		})
	})
}

// HandleLoginGoogle signs in with an already-exchanged federated profile.
// Identities created this way are pre-verified.
func (h *Handler) HandleLoginGoogle() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
			PhotoURL    string `json:"photoUrl"`
			ReturnTo    string `json:"returnTo"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		id, sess, err := h.identitySvc.SignInFederated(r.Context(), identity.FederatedProfile{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			PhotoURL:    req.PhotoURL,
		})
		if err != nil {
			writeError(w, r, err)

			return
		}

		err = h.storeSessionID(w, r, sess.ID)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to store session id in cookie", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)

			return
		}

		writeJSON(w, r, http.StatusOK, map[string]any{
			"identity": identityToPayload(id),
			"returnTo": sanitizeReturnToPath(req.ReturnTo),
		})
	})
}

func (h *Handler) HandleLogout() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := session.SessionIDFromContext(r.Context())
		if ok {
			err := h.identitySvc.SignOut(r.Context(), sessionID)
			if err != nil {
				slog.ErrorContext(r.Context(), "error on logout", "sessionId", sessionID, "error", err)
				http.Error(w, "error on logout", http.StatusInternalServerError)

				return
			}
		}

		err := h.clearSessionID(w, r)
		if err != nil {
			slog.ErrorContext(r.Context(), "error on clearing session cookie", "error", err)
			http.Error(w, "error on clearing session cookie", http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *Handler) HandleVerifyEmail() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		id, err := h.identitySvc.ConfirmVerification(r.Context(), token)
		if err != nil {
			writeError(w, r, err)

			return
		}

		writeJSON(w, r, http.StatusOK, identityToPayload(id))
	})
}

func (h *Handler) HandleResendVerification() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := snapshotFromRequest(r)

		err := h.identitySvc.SendVerificationEmail(r.Context(), snapshot.UID())
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusAccepted)
	})
}

func (h *Handler) HandleSendPasswordReset() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		err = h.identitySvc.SendPasswordResetEmail(r.Context(), req.Email)
		if err != nil {
			// Whether the email exists is not leaked to the caller.
			slog.InfoContext(r.Context(), "password reset request not delivered", "error", err)
		}

		w.WriteHeader(http.StatusAccepted)
	})
}

func (h *Handler) HandleResetPassword() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}

		err := decodeJSON(r, &req)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		err = h.identitySvc.ResetPassword(r.Context(), req.Token, req.Password)
		if err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
