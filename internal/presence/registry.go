// Package presence tracks which users currently hold a live connection.
// The registry is process-local and mutated only by the relay's connect
// and disconnect handlers.
package presence

import (
	"sync"

	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/metrics"
)

// Registry maps authenticated user ids to their active connection. At
// most one record exists per user: a reconnect replaces the previous
// record rather than duplicating it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]domain.PresenceRecord
	byConn map[string]string // connection id -> user id
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]domain.PresenceRecord),
		byConn: make(map[string]string),
	}
}

// Add registers a user on a connection, replacing any previous record
// for that user. Returns the connection id of the replaced record, if
// any.
func (r *Registry) Add(userID, connID string, profile domain.Profile) (replacedConnID string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok {
		delete(r.byConn, prev.ConnID)
		replacedConnID, replaced = prev.ConnID, true
	}
	r.byUser[userID] = domain.PresenceRecord{UserID: userID, ConnID: connID, Profile: profile}
	r.byConn[connID] = userID
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
	return replacedConnID, replaced
}

// RemoveConn removes the presence record owned by the given connection.
// A record replaced by a reconnect is not removed when the stale
// connection finally disconnects.
func (r *Registry) RemoveConn(connID string) (userID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	delete(r.byUser, userID)
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
	return userID, true
}

// Lookup returns the presence record for a user.
func (r *Registry) Lookup(userID string) (domain.PresenceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byUser[userID]
	return rec, ok
}

// Snapshot returns the current online-user list.
func (r *Registry) Snapshot() []domain.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PresenceRecord, 0, len(r.byUser))
	for _, rec := range r.byUser {
		out = append(out, rec)
	}
	return out
}
