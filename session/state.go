package session

import (
	"context"
	"sync"

	"maru/identity"
)

// State is the position in the verification state machine. The only
// transitions are anonymous → unverified → verified (or back to anonymous on
// sign-out); verification never revokes within a session.
type State string

const (
	StateAnonymous  State = "anonymous"
	StateUnverified State = "authenticated-unverified"
	StateVerified   State = "authenticated-verified"
)

// Capabilities is the capability set resolved once when the snapshot is
// built. Ownership is implicit (checked per comment); administration is a
// role.
type Capabilities struct {
	Administrator bool
}

// CapabilityResolver resolves the capability set for a uid. Wired from the
// authorization client at startup.
type CapabilityResolver func(ctx context.Context, uid string) Capabilities

// Snapshot is the current-identity value consumers read. It is replaced
// wholesale on every change; nothing mutates it in place.
type Snapshot struct {
	Identity     *identity.Identity
	State        State
	Capabilities Capabilities
}

// CanPost reports whether posting and replying are permitted.
func (s Snapshot) CanPost() bool {
	return s.State == StateVerified
}

// CanLike reports whether like toggles are permitted. Unverified identities
// may like; anonymous callers are sent to login instead.
func (s Snapshot) CanLike() bool {
	return s.State != StateAnonymous
}

func (s Snapshot) UID() string {
	if s.Identity == nil {
		return Anonymous
	}

	return s.Identity.UID
}

// BuildSnapshot computes the snapshot for an identity (or nil for none).
func BuildSnapshot(ctx context.Context, id *identity.Identity, resolve CapabilityResolver) Snapshot {
	if id == nil {
		return Snapshot{State: StateAnonymous}
	}

	state := StateUnverified
	if id.IsVerified() {
		state = StateVerified
	}

	var caps Capabilities
	if resolve != nil {
		caps = resolve(ctx, id.UID)
	}

	return Snapshot{
		Identity:     id,
		State:        state,
		Capabilities: caps,
	}
}

// Tracker mirrors the identity provider's change notifications into a single
// current snapshot. Consumers are notified synchronously, with no
// debouncing.
type Tracker struct {
	resolve CapabilityResolver

	mu        sync.Mutex
	current   Snapshot
	listeners []func(Snapshot)
}

func NewTracker(resolve CapabilityResolver) *Tracker {
	return &Tracker{
		resolve: resolve,
		current: Snapshot{State: StateAnonymous},
	}
}

// ChangeSource is the identity provider's listener registration surface.
type ChangeSource interface {
	OnIdentityChanged(fn func(*identity.Identity))
}

// Follow subscribes the tracker to a change source so every sign-in,
// sign-out, verification, and profile change replaces the snapshot.
func (t *Tracker) Follow(ctx context.Context, src ChangeSource) {
	src.OnIdentityChanged(func(id *identity.Identity) {
		t.Set(ctx, id)
	})
}

// Set replaces the current snapshot from a pushed identity (nil on
// sign-out).
func (t *Tracker) Set(ctx context.Context, id *identity.Identity) {
	snapshot := BuildSnapshot(ctx, id, t.resolve)

	t.mu.Lock()
	t.current = snapshot
	listeners := make([]func(Snapshot), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}

func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, fn)
}
