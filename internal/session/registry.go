// ABOUTME: Registry holding at most one live engine session per conversation
// ABOUTME: Sessions are created lazily and dropped on plaintext transitions or account removal

package session

import (
	"sort"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
)

// Registry maps conversation keys to sessions. It does no locking: every
// method must be called from the owning goroutine.
type Registry struct {
	sessions map[conversation.Key]engine.Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[conversation.Key]engine.Session)}
}

// GetOrCreate returns the session for key, building and registering one
// with create if there is none. The bool reports whether it was created.
func (r *Registry) GetOrCreate(key conversation.Key, create func() engine.Session) (engine.Session, bool) {
	if s, ok := r.sessions[key]; ok {
		return s, false
	}
	s := create()
	r.sessions[key] = s
	return s, true
}

// Get returns the session for key, or nil.
func (r *Registry) Get(key conversation.Key) engine.Session {
	return r.sessions[key]
}

// Remove drops the session for key and returns it, or nil.
func (r *Registry) Remove(key conversation.Key) engine.Session {
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	delete(r.sessions, key)
	return s
}

// RemoveAccount drops every session under account and returns them.
func (r *Registry) RemoveAccount(account string) []engine.Session {
	var out []engine.Session
	for _, k := range r.Keys() {
		if k.Account == account {
			out = append(out, r.sessions[k])
			delete(r.sessions, k)
		}
	}
	return out
}

// Keys returns the registered keys in a stable order.
func (r *Registry) Keys() []conversation.Key {
	keys := make([]conversation.Key, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].Peer < keys[j].Peer
	})
	return keys
}

// Len is the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
