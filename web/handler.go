package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"

	"maru/authorization"
	"maru/board"
	"maru/comment"
	"maru/discuss"
	"maru/identity"
	"maru/session"
)

// Handler is the HTTP surface: a JSON API plus a server-sent-events stream
// per board. Routing splits into the board view (feed, live stream,
// mutations) and the profile view (account and moderation); both share the
// same session middleware.
type Handler struct {
	mux         *http.ServeMux
	handler     http.Handler
	identitySvc *identity.Service
	discussSvc  *discuss.Service
	watcher     comment.Watcher
	resolve     session.CapabilityResolver
	cookieStore *sessions.CookieStore
	sessionName string
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(
	identitySvc *identity.Service,
	discussSvc *discuss.Service,
	watcher comment.Watcher,
	resolve session.CapabilityResolver,
	cookieStore *sessions.CookieStore,
	sessionName string,
	csrfAuthKeys []byte,
	csrfTrustedOrigins []string,
) *Handler {
	h := &Handler{
		mux:         nil,
		handler:     nil,
		identitySvc: identitySvc,
		discussSvc:  discussSvc,
		watcher:     watcher,
		resolve:     resolve,
		cookieStore: cookieStore,
		sessionName: sessionName,
	}

	{
		h.mux = &http.ServeMux{}
		h.handler = h.mux

		h.registerRoutes()
	}

	{
		h.handler = h.authMiddleware(h.handler)

		{
			csrfMiddleware := csrf.Protect(
				csrfAuthKeys,
				csrf.TrustedOrigins(csrfTrustedOrigins),
			)

			h.handler = csrfMiddleware(h.handler)
		}

		h.handler = recoverMiddleware(h.handler)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.Handle("POST /register", h.HandleRegister())
	h.mux.Handle("POST /login", h.GuestOnly(h.HandleLogin()))
	h.mux.Handle("POST /login/google", h.GuestOnly(h.HandleLoginGoogle()))
	h.mux.Handle("POST /logout", h.AuthenticatedOnly(h.HandleLogout()))

	h.mux.Handle("GET /verify-email", h.HandleVerifyEmail())
	h.mux.Handle("POST /verify-email/resend", h.AuthenticatedOnly(h.HandleResendVerification()))
	h.mux.Handle("POST /reset-password", h.HandleSendPasswordReset())
	h.mux.Handle("POST /reset-password/confirm", h.HandleResetPassword())

	h.mux.Handle("GET /session", h.HandleCurrentSession())

	h.mux.Handle("GET /boards", h.HandleListBoards())
	h.mux.Handle("GET /boards/{board}/feed", h.HandleBoardFeed())
	h.mux.Handle("GET /boards/{board}/live", h.HandleBoardLive())
	h.mux.Handle("POST /boards/{board}/comments", h.HandleCreateComment())

	h.mux.Handle("PATCH /comments/{commentId}", h.HandleEditComment())
	h.mux.Handle("DELETE /comments/{commentId}", h.HandleDeleteComment())
	h.mux.Handle("POST /comments/{commentId}/like", h.HandleToggleLike())

	h.mux.Handle("PUT /profile", h.AuthenticatedOnly(h.HandleSaveProfile()))
	h.mux.Handle("DELETE /account", h.AuthenticatedOnly(h.HandleDeleteAccount()))

	h.mux.Handle("DELETE /moderation/authors/{uid}/comments", h.AuthenticatedOnly(h.HandleModerateAuthor()))
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func(ctx context.Context) {
			if err := recover(); err != nil {
				slog.ErrorContext(
					ctx,
					"recovered from panic",
					"error",
					err,
					"stack",
					string(debug.Stack()),
				)

				http.Error(w, "internal error occurred", http.StatusInternalServerError)
			}
		}(r.Context())

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything not
// recognized is a 500 with the detail kept in the log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		accessDeniedErr   *authorization.AccessDeniedError
		invalidBoardErr   *board.InvalidBoardError
		notFoundErr       *comment.NotFoundError
		notOwnerErr       *discuss.NotCommentOwnerError
		crossBoardErr     *discuss.CrossBoardReplyError
		selfModerationErr *discuss.SelfModerationError
		malformedEmailErr *identity.MalformedEmailError
		weakPasswordErr   *identity.WeakPasswordError
		emailTakenErr     *identity.EmailAlreadyRegisteredError
		rateLimitedErr    *identity.RateLimitedError
		staleSessionErr   *identity.StaleSessionError
		tokenNotFoundErr  *identity.TokenNotFoundError
		tokenExpiredErr   *identity.TokenExpiredError
	)

	switch {
	case errors.Is(err, discuss.ErrSignInRequired):
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: err.Error(), RedirectTo: "/login"})
	case errors.Is(err, discuss.ErrVerificationRequired):
		writeJSON(w, r, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, discuss.ErrEmptyContent):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.As(err, &accessDeniedErr):
		writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "access denied"})
	case errors.As(err, &invalidBoardErr):
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &notOwnerErr):
		writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "not the comment owner"})
	case errors.As(err, &crossBoardErr):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &selfModerationErr):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &malformedEmailErr):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &weakPasswordErr):
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &emailTakenErr):
		writeJSON(w, r, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &rateLimitedErr):
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.As(err, &staleSessionErr):
		writeJSON(w, r, http.StatusForbidden, errorResponse{Error: "recent sign-in required", RedirectTo: "/login"})
	case errors.As(err, &tokenNotFoundErr), errors.As(err, &tokenExpiredErr):
		writeJSON(w, r, http.StatusGone, errorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	return dec.Decode(dst)
}

// sanitizeReturnToPath keeps post-login redirects on this site. Anything but
// a local absolute path falls back to the root.
func sanitizeReturnToPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return "/"
	}

	return path
}
