// Package session tracks which agent identity is bound to a live streaming
// connection, so follow-up calls on the same connection can omit credentials.
package session

import "sync"

// Identity is the credential pair bound to a connection.
type Identity struct {
	AgentID string
	Token   string
}

// Registry maps connection ids to agent identities. Entries are written by
// register/resume/heartbeat calls arriving on a streaming connection and
// removed when the connection closes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Identity)}
}

// Bind associates an agent identity with a connection, replacing any
// previous binding.
func (r *Registry) Bind(connectionID, agentID, token string) {
	if connectionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connectionID] = Identity{AgentID: agentID, Token: token}
}

// Lookup returns the identity bound to a connection, if any.
func (r *Registry) Lookup(connectionID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[connectionID]
	return id, ok
}

// Unbind removes the binding for a closed connection.
func (r *Registry) Unbind(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connectionID)
}

// Len reports the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
