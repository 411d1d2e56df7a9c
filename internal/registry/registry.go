// Package registry maps device ids to their single live transport connection.
//
// A Registry is not safe for concurrent use. The relay owns it from its event
// loop goroutine, which serializes every mutation.
package registry

import (
	"sort"
	"time"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// Handle is a live transport connection bound to one device
type Handle interface {
	DeviceID() string
	// Send queues msg without blocking and reports whether it was accepted
	Send(msg *models.Envelope) bool
	// CloseAfterFlush closes once already queued messages are written
	CloseAfterFlush()
	Close() error
}

// Entry is the registry record for one connected device
type Entry struct {
	Handle      Handle
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Registry is the single source of truth for device reachability
type Registry struct {
	entries map[string]*Entry
	now     func() time.Time
}

// New creates an empty registry
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: make(map[string]*Entry),
		now:     now,
	}
}

// Register binds h to its device id, replacing any previous handle.
// The displaced handle is returned so the caller can close it.
func (r *Registry) Register(h Handle) Handle {
	id := h.DeviceID()
	var prev Handle
	if old, exists := r.entries[id]; exists && old.Handle != h {
		prev = old.Handle
	}

	now := r.now()
	r.entries[id] = &Entry{
		Handle:      h,
		ConnectedAt: now,
		LastSeen:    now,
	}
	return prev
}

// Resolve returns the live handle for a device
func (r *Registry) Resolve(deviceID string) (Handle, bool) {
	e, exists := r.entries[deviceID]
	if !exists {
		return nil, false
	}
	return e.Handle, true
}

// Entry returns the full record for a device
func (r *Registry) Entry(deviceID string) (*Entry, bool) {
	e, exists := r.entries[deviceID]
	return e, exists
}

// Unregister removes the device only if h is still its current handle, so a
// superseded connection closing late cannot evict its replacement.
func (r *Registry) Unregister(deviceID string, h Handle) bool {
	e, exists := r.entries[deviceID]
	if !exists || e.Handle != h {
		return false
	}
	delete(r.entries, deviceID)
	return true
}

// Touch records activity for a device
func (r *Registry) Touch(deviceID string) {
	if e, exists := r.entries[deviceID]; exists {
		e.LastSeen = r.now()
	}
}

// IsOnline reports whether a device currently has a live handle
func (r *Registry) IsOnline(deviceID string) bool {
	_, exists := r.entries[deviceID]
	return exists
}

// Count returns the number of connected devices
func (r *Registry) Count() int {
	return len(r.entries)
}

// DeviceIDs returns the connected device ids in sorted order
func (r *Registry) DeviceIDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every handle once its queue is flushed and empties the registry
func (r *Registry) CloseAll() int {
	n := len(r.entries)
	for id, e := range r.entries {
		e.Handle.CloseAfterFlush()
		delete(r.entries, id)
	}
	return n
}
