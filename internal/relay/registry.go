package relay

import "errors"

// ErrAlreadyRegistered is returned when a connection already holds a session.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry maps live connection IDs to session nicknames.
// A connection without an entry is unauthenticated.
// Nicknames are not required to be unique.
//
// Registry is not safe for concurrent use; the event loop owns it.
type Registry struct {
	nicks map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{nicks: make(map[string]string)}
}

// Register creates a session for id.
func (r *Registry) Register(id, nick string) error {
	if _, ok := r.nicks[id]; ok {
		return ErrAlreadyRegistered
	}
	r.nicks[id] = nick
	return nil
}

// Lookup returns the nickname registered for id.
func (r *Registry) Lookup(id string) (string, bool) {
	nick, ok := r.nicks[id]
	return nick, ok
}

// Remove deletes the session for id and returns the nickname it held.
func (r *Registry) Remove(id string) (string, bool) {
	nick, ok := r.nicks[id]
	if ok {
		delete(r.nicks, id)
	}
	return nick, ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	return len(r.nicks)
}
