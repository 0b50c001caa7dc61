package web

import (
	"fmt"
	"net/http"
)

// The cookie carries exactly one value, the server-side session id; identity
// state always comes from the session repository, never from the cookie.
const sessionIDKey = "sessionId"

type SessionIDNotFoundError struct{}

func (err SessionIDNotFoundError) Error() string {
	return "no session id in cookie"
}

// sessionIDFromCookie reads the session id. A cookie without one, including a
// value of a wrong type from a stale signing key, reads as not found.
func (h *Handler) sessionIDFromCookie(r *http.Request) (string, error) {
	cookieSession, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return "", fmt.Errorf("failed to get cookie session: %w", err)
	}

	value, ok := cookieSession.Values[sessionIDKey]
	if !ok {
		return "", &SessionIDNotFoundError{}
	}

	sessionID, ok := value.(string)
	if !ok || sessionID == "" {
		return "", &SessionIDNotFoundError{}
	}

	return sessionID, nil
}

func (h *Handler) storeSessionID(w http.ResponseWriter, r *http.Request, sessionID string) error {
	cookieSession, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return fmt.Errorf("failed to get cookie session: %w", err)
	}

	cookieSession.Values[sessionIDKey] = sessionID

	err = cookieSession.Save(r, w)
	if err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}

	return nil
}

func (h *Handler) clearSessionID(w http.ResponseWriter, r *http.Request) error {
	cookieSession, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return fmt.Errorf("failed to get cookie session: %w", err)
	}

	delete(cookieSession.Values, sessionIDKey)

	err = cookieSession.Save(r, w)
	if err != nil {
		return fmt.Errorf("failed to save cookie session: %w", err)
	}

	return nil
}
