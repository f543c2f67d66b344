// Package registry tracks live client sessions and fans notifications out to
// the sessions watching a collection. Broadcast is best-effort, at-most-once
// per live session: a disconnected client misses the frame and re-polls job
// status instead.
package registry

import (
	"sync"

	"github.com/ngqkhai/script-generator/internal/logging"
)

// Session is the transport handle the registry delivers to. The handle is the
// sole owner of the underlying connection; the registry never closes it except
// through Close after a delivery failure.
type Session interface {
	// SendJSON delivers one frame. An error marks the session undeliverable.
	SendJSON(v any) error
	// Deliverable reports whether the transport can still accept frames.
	Deliverable() bool
	// Close tears the transport down.
	Close() error
}

// Registry maps collection keys to ordered session groups plus a global set
// for accounting. Every mutation is one uninterrupted critical section;
// broadcast delivery happens on a snapshot outside the lock.
type Registry struct {
	mu     sync.Mutex
	all    map[Session]string   // session -> collection key, "" when ungrouped
	groups map[string][]Session // insertion order, no duplicates
	log    logging.ServiceLogger
}

func New(log logging.ServiceLogger) *Registry {
	return &Registry{
		all:    make(map[Session]string),
		groups: make(map[string][]Session),
		log:    log,
	}
}

// Subscribe adds the session to the global set and, when key is non-empty, to
// that collection group. Re-subscribing the same session is a no-op.
func (r *Registry) Subscribe(s Session, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.all[s]; exists {
		return
	}
	r.all[s] = key
	if key != "" {
		r.groups[key] = append(r.groups[key], s)
	}
	r.log.Debug("session subscribed", logging.LogFields{
		"collection_id": key,
		"group_size":    len(r.groups[key]),
		"total":         len(r.all),
	})
}

// Unsubscribe removes the session from the global set and its group, deleting
// the group when it empties. Idempotent on an absent session.
func (r *Registry) Unsubscribe(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(s)
}

func (r *Registry) unsubscribeLocked(s Session) {
	key, exists := r.all[s]
	if !exists {
		return
	}
	delete(r.all, s)
	if key == "" {
		return
	}
	group := r.groups[key]
	for i, member := range group {
		if member == s {
			r.groups[key] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(r.groups[key]) == 0 {
		delete(r.groups, key)
	}
}

// Broadcast delivers the message to every session subscribed to key at the
// moment of the call and returns how many accepted it. Sessions that fail or
// are no longer deliverable are unsubscribed and closed after the pass; a
// missing or empty group returns 0 without error.
func (r *Registry) Broadcast(key string, message any) int {
	r.mu.Lock()
	snapshot := make([]Session, len(r.groups[key]))
	copy(snapshot, r.groups[key])
	r.mu.Unlock()

	if len(snapshot) == 0 {
		r.log.Debug("no sessions for collection", logging.LogFields{"collection_id": key})
		return 0
	}

	delivered := 0
	var dead []Session
	for _, s := range snapshot {
		if !s.Deliverable() {
			dead = append(dead, s)
			continue
		}
		if err := s.SendJSON(message); err != nil {
			r.log.Error("broadcast delivery failed, evicting session", err,
				logging.LogFields{"collection_id": key})
			dead = append(dead, s)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, s := range dead {
			r.unsubscribeLocked(s)
		}
		r.mu.Unlock()
		for _, s := range dead {
			_ = s.Close()
		}
	}

	return delivered
}

// Group returns a snapshot of the sessions subscribed to key.
func (r *Registry) Group(key string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]Session, len(r.groups[key]))
	copy(snapshot, r.groups[key])
	return snapshot
}

// Size reports the group membership count for key.
func (r *Registry) Size(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups[key])
}

// GlobalSize reports the total number of registered sessions.
func (r *Registry) GlobalSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

// Keys lists the collection keys that currently have members, for diagnostics.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.groups))
	for key := range r.groups {
		keys = append(keys, key)
	}
	return keys
}
