package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"maru/identity"
	"maru/session"
)

type contextKeySnapshot struct{}

func withSnapshot(ctx context.Context, snapshot session.Snapshot) context.Context {
	return context.WithValue(ctx, contextKeySnapshot{}, snapshot)
}

// snapshotFromRequest returns the session snapshot the middleware attached.
// Requests that never passed the middleware read as anonymous.
func snapshotFromRequest(r *http.Request) session.Snapshot {
	snapshot, ok := r.Context().Value(contextKeySnapshot{}).(session.Snapshot)
	if !ok {
		return session.Snapshot{State: session.StateAnonymous}
	}

	return snapshot
}

// authMiddleware resolves the cookie's session into a session snapshot and
// attaches it, along with the subject and session id, to the request context.
// A dangling or expired session clears the cookie and continues anonymous.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionIDNotFoundErr *SessionIDNotFoundError

		sessionID, err := h.sessionIDFromCookie(r)
		if err != nil && !errors.As(err, &sessionIDNotFoundErr) {
			slog.ErrorContext(r.Context(), "error on reading session id from cookie", "error", err)
			http.Error(w, "error on reading session cookie", http.StatusInternalServerError)

			return
		}

		anonymous := func() {
			ctx := withSnapshot(r.Context(), session.Snapshot{State: session.StateAnonymous})
			next.ServeHTTP(w, r.WithContext(ctx))
		}

		if sessionID == "" {
			anonymous()

			return
		}

		sess, err := h.identitySvc.GetSession(r.Context(), sessionID)
		if err != nil {
			var (
				sessionNotFoundErr *identity.SessionNotFoundError
				sessionExpiredErr  *identity.SessionExpiredError
			)

			if errors.As(err, &sessionNotFoundErr) || errors.As(err, &sessionExpiredErr) {
				err = h.clearSessionID(w, r)
				if err != nil {
					slog.ErrorContext(r.Context(), "error on clearing session cookie", "error", err)
					http.Error(w, "error on clearing session cookie", http.StatusInternalServerError)

					return
				}

				anonymous()

				return
			}

			slog.ErrorContext(r.Context(), "error on getting session", "sessionId", sessionID, "error", err)
			http.Error(w, "error on getting session", http.StatusInternalServerError)

			return
		}

		id, err := h.identitySvc.GetUser(r.Context(), sess.UID)
		if err != nil {
			var userNotFoundErr *identity.UserNotFoundError
			if errors.As(err, &userNotFoundErr) {
				// Account deleted while the cookie survived.
				err = h.clearSessionID(w, r)
				if err != nil {
					slog.ErrorContext(r.Context(), "error on clearing session cookie", "error", err)
					http.Error(w, "error on clearing session cookie", http.StatusInternalServerError)

					return
				}

				anonymous()

				return
			}

			slog.ErrorContext(r.Context(), "error retrieving user", "error", err)
			http.Error(w, "error on retrieving user", http.StatusInternalServerError)

			return
		}

		snapshot := session.BuildSnapshot(r.Context(), id, h.resolve)

		ctx := r.Context()
		ctx = session.WithSessionID(ctx, sess.ID)
		ctx = session.WithSubject(ctx, id.UID)
		ctx = withSnapshot(ctx, snapshot)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isAuthenticated(r *http.Request) bool {
	return snapshotFromRequest(r).State != session.StateAnonymous
}

func (h *Handler) AuthenticatedOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAuthenticated(r) {
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "sign in required", RedirectTo: "/login"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) GuestOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthenticated(r) {
			writeJSON(w, r, http.StatusConflict, errorResponse{Error: "already signed in"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
