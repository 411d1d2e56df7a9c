// Package directory is the session-independent device registry used for
// invitations by username and nearby-session discovery.
package directory

import (
	"sort"
	"strings"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// Directory is not safe for concurrent use; the relay event loop owns it
type Directory struct {
	entries    map[string]*models.DirectoryEntry
	byUsername map[string]map[string]bool
}

// New creates an empty directory
func New() *Directory {
	return &Directory{
		entries:    make(map[string]*models.DirectoryEntry),
		byUsername: make(map[string]map[string]bool),
	}
}

// Register adds or replaces the entry for entry.DeviceID
func (d *Directory) Register(entry models.DirectoryEntry) {
	d.Unregister(entry.DeviceID)

	e := entry
	d.entries[e.DeviceID] = &e
	if key := usernameKey(e.Username); key != "" {
		if d.byUsername[key] == nil {
			d.byUsername[key] = make(map[string]bool)
		}
		d.byUsername[key][e.DeviceID] = true
	}
}

// Unregister removes a device. It reports whether it was registered.
func (d *Directory) Unregister(deviceID string) bool {
	e, ok := d.entries[deviceID]
	if !ok {
		return false
	}
	delete(d.entries, deviceID)
	if key := usernameKey(e.Username); key != "" {
		delete(d.byUsername[key], deviceID)
		if len(d.byUsername[key]) == 0 {
			delete(d.byUsername, key)
		}
	}
	return true
}

// Get returns a copy of one entry
func (d *Directory) Get(deviceID string) (models.DirectoryEntry, bool) {
	e, ok := d.entries[deviceID]
	if !ok {
		return models.DirectoryEntry{}, false
	}
	return *e, true
}

// ByUsername returns every device registered under username, case-insensitively
func (d *Directory) ByUsername(username string) []models.DirectoryEntry {
	ids := d.byUsername[usernameKey(username)]
	list := make([]models.DirectoryEntry, 0, len(ids))
	for id := range ids {
		list = append(list, *d.entries[id])
	}
	sortEntries(list)
	return list
}

// All returns every entry sorted by device id
func (d *Directory) All() []models.DirectoryEntry {
	list := make([]models.DirectoryEntry, 0, len(d.entries))
	for _, e := range d.entries {
		list = append(list, *e)
	}
	sortEntries(list)
	return list
}

// Len returns the number of registered devices
func (d *Directory) Len() int {
	return len(d.entries)
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func sortEntries(list []models.DirectoryEntry) {
	sort.Slice(list, func(i, j int) bool { return list[i].DeviceID < list[j].DeviceID })
}
