package session

import "context"

// Anonymous is the subject used when no identity is signed in.
const Anonymous = "system:anonymous"

type contextKeySubject struct{}

func WithSubject(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, contextKeySubject{}, uid)
}

func GetSubject(ctx context.Context) string {
	uid, ok := ctx.Value(contextKeySubject{}).(string)
	if !ok {
		return Anonymous
	}

	return uid
}

type contextKeySessionID struct{}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID{}, sessionID)
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(contextKeySessionID{}).(string)
	if !ok {
		return "", false
	}

	return sessionID, true
}
