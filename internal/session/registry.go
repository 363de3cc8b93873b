package session

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNotFound is returned by Remove when no session with the given PID is
// registered.
var ErrNotFound = errors.New("session: not found")

// Handle is a stable reference into the registry, invalidated once the
// matching session is removed (spec §4.5's "registry as handles, not
// references" design note). Workers must not retain the *Session itself
// past Remove; they retain a Handle instead.
type Handle struct {
	pid uint32
}

// PID returns the registry key this handle was issued for.
func (h Handle) PID() uint32 { return h.pid }

// Registry is the thread-safe, iterable set of live sessions (C5): an
// ordered sequence protected by a single mutex. Iteration must never block
// on I/O, so the shutdown broadcast (SignalAll) only signals — it never
// writes to a pipe.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends session and returns a stable handle. The handle remains
// valid until Remove is called with the same PID.
func (r *Registry) Add(s *Session) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	return Handle{pid: s.PID()}
}

// Remove deletes the first (only) entry whose PID matches h.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sessions {
		if s.PID() == h.pid {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast iterates every live session calling apply. Used only during
// signal-driven shutdown (spec §4.5/§4.6): it must not block on I/O, so
// callers pass a non-blocking apply (e.g. signalling a PID), never a
// response write.
func (r *Registry) Broadcast(apply func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		apply(s)
	}
}

// SignalAll sends sig to every live client's PID, absorbing ESRCH (the
// client already exited) the way the dispatcher absorbs write-to-closed-pipe
// elsewhere (spec §4.6/§5).
func (r *Registry) SignalAll(sig unix.Signal) {
	r.Broadcast(func(s *Session) {
		_ = unix.Kill(int(s.Record.ClientPID), sig)
	})
}
