// Package presence tracks which authenticated users currently hold a live
// connection. The registry is the single source of truth for "who is online";
// it holds no knowledge of transfers.
package presence

import (
	"sort"
	"sync"
	"time"

	"privora/internal/models"
)

// Registry is an in-memory identity→connection directory. Every operation
// runs as one atomic step under the internal mutex; none of them touch the
// network or block on I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*models.PresenceEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*models.PresenceEntry)}
}

// Upsert registers a user's connection. A second connection from the same
// user replaces the existing entry in place, adopting the new connection id
// and timestamps. It returns the connection id that was displaced, if any.
func (r *Registry) Upsert(entry models.PresenceEntry) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[entry.UserID]; ok && prev.ConnectionID != entry.ConnectionID {
		replaced = prev.ConnectionID
	}
	e := entry
	r.entries[entry.UserID] = &e
	return replaced
}

// Remove drops the user's entry. Removing an absent user is a no-op, which
// makes duplicate disconnect signals safe.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// RemoveConnection drops the user's entry only if it still belongs to the
// given connection. This keeps a lingering disconnect from an orphaned
// connection from evicting the replacement login.
func (r *Registry) RemoveConnection(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || e.ConnectionID != connectionID {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Touch refreshes the liveness timestamp of an online user.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	if e, ok := r.entries[userID]; ok {
		e.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// Lookup returns the connection id currently serving the user.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return "", false
	}
	return e.ConnectionID, true
}

// Snapshot returns a copy of all entries ordered by connection time.
func (r *Registry) Snapshot() []models.PresenceEntry {
	r.mu.Lock()
	list := make([]models.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, *e)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	return list
}

// Evict removes every entry whose lastSeen is older than cutoff and returns
// the ids of the evicted users. Decisions are made against the state at call
// time, so an entry touched after cutoff was computed survives the sweep.
func (r *Registry) Evict(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for userID, e := range r.entries {
		if e.LastSeen.Before(cutoff) {
			delete(r.entries, userID)
			evicted = append(evicted, userID)
		}
	}
	return evicted
}
