package relay

import "sync"

// Registry is the process-wide table of which user owns which live
// connection. It holds no transport state and is lost on restart; clients
// re-claim on reconnect.
//
// All operations are total: absent lookups return false, never an error.
type Registry struct {
	mu    sync.Mutex
	users map[string]string // user ID -> connection ID
	conns map[string]string // connection ID -> user ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]string),
		conns: make(map[string]string),
	}
}

// Add records the claim userID -> connID. The first claim wins: when a record
// for userID already exists the call is a no-op and returns false. A
// duplicate claim is not an error.
func (r *Registry) Add(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; ok {
		return false
	}
	r.users[userID] = connID
	r.conns[connID] = userID
	return true
}

// Remove deletes the record whose connection ID matches. Keying removal by
// connection, not user, means a stale second connection never evicts a live
// claim. No-op when absent.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	if r.users[userID] == connID {
		delete(r.users, userID)
	}
	return userID, true
}

// Lookup returns the live connection for a user. The second result
// distinguishes "offline" from any notion of failure.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.users[userID]
	return connID, ok
}

// Len reports the number of claimed connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
