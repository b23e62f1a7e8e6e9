// Package registry keeps track of the live connection of every authenticated user.
package registry

import (
	"miyav/internal/models"
	"sort"
	"sync"
	"time"
)

// Handle is a live transport to one client.
type Handle interface {
	// Send queues msg for delivery. It never blocks and reports whether the message was queued.
	Send(msg models.ServerMessage) bool
	Close() error
}

type Connection struct {
	UserID      string
	Handle      Handle
	ConnectedAt time.Time
}

// Registry maps user IDs to their single live connection.
// A newer connection for the same user replaces the older one.
type Registry struct {
	conns map[string]Connection
	now   func() time.Time
	mu    sync.RWMutex
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Connection),
		now:   time.Now,
	}
}

// Add registers h for userID and returns the handle it replaced, if any.
func (r *Registry) Add(userID string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[userID]
	r.conns[userID] = Connection{
		UserID:      userID,
		Handle:      h,
		ConnectedAt: r.now(),
	}
	if !ok {
		return nil
	}
	return prev.Handle
}

// Remove deletes the mapping for userID. Removing an absent user is a no-op.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// Release deletes the mapping only while h is still the registered handle.
// It reports whether the mapping was removed.
func (r *Registry) Release(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[userID]
	if !ok || c.Handle != h {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Get(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c.Handle, ok
}

func (r *Registry) Connection(userID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectedUsers returns the sorted IDs of all connected users.
func (r *Registry) ConnectedUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll closes every live handle. Entries stay registered until their
// owners release them.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns))
	for _, c := range r.conns {
		handles = append(handles, c.Handle)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		_ = h.Close()
	}
}
