package identity

import (
	"sync"
	"time"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 10 * time.Minute
)

// signInLimiter locks an email address out after repeated failed sign-ins.
// Successful sign-ins clear the counter.
type signInLimiter struct {
	mu       sync.Mutex
	failures map[string]*failureRecord
}

type failureRecord struct {
	count       int
	lastFailure time.Time
}

func newSignInLimiter() *signInLimiter {
	return &signInLimiter{
		failures: make(map[string]*failureRecord),
	}
}

func (l *signInLimiter) allow(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.failures[email]
	if !ok {
		return true
	}

	if time.Since(rec.lastFailure) > lockoutDuration {
		delete(l.failures, email)

		return true
	}

	return rec.count < maxFailedAttempts
}

func (l *signInLimiter) fail(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.failures[email]
	if !ok {
		rec = &failureRecord{}
		l.failures[email] = rec
	}

	rec.count++
	rec.lastFailure = time.Now()
}

func (l *signInLimiter) reset(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, email)
}
