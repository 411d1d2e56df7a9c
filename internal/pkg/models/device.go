package models

import "time"

// DeviceKind is the form factor a device reports when it joins
type DeviceKind string

const (
	DeviceKindPhone   DeviceKind = "phone"
	DeviceKindLaptop  DeviceKind = "laptop"
	DeviceKindDesktop DeviceKind = "desktop"
	DeviceKindTablet  DeviceKind = "tablet"
)

// Valid reports whether k is one of the known device kinds
func (k DeviceKind) Valid() bool {
	switch k {
	case DeviceKindPhone, DeviceKindLaptop, DeviceKindDesktop, DeviceKindTablet:
		return true
	}
	return false
}

// PermissionSet holds the content kinds a receiving device has allowed.
// The relay only mirrors these for display; it never enforces them.
type PermissionSet struct {
	Files        bool `json:"files"`
	Media        bool `json:"media"`
	Prompts      bool `json:"prompts"`
	Clipboard    bool `json:"clipboard"`
	RemoteBrowse bool `json:"remote_browse"`
}

// Device is one addressable endpoint inside a session
type Device struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Username    string        `json:"username,omitempty"`
	Kind        DeviceKind    `json:"kind"`
	Online      bool          `json:"online"`
	Permissions PermissionSet `json:"permissions"`
	JoinedAt    time.Time     `json:"joinedAt"`
	LastSeen    time.Time     `json:"lastSeen"`
}

// DeviceInfo is the self-description a device sends with create/join/register
type DeviceInfo struct {
	DisplayName string     `json:"displayName"`
	Username    string     `json:"username,omitempty"`
	Kind        DeviceKind `json:"kind,omitempty"`
}

// DeviceUpdate carries the mutable fields of a device_status_update.
// Nil fields are left untouched.
type DeviceUpdate struct {
	DisplayName *string        `json:"displayName,omitempty"`
	Kind        *DeviceKind    `json:"kind,omitempty"`
	Permissions *PermissionSet `json:"permissions,omitempty"`
}

// Group is a named subset of a session's devices
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DeviceIDs []string  `json:"deviceIds"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Color     string    `json:"color,omitempty"`
}

// DirectoryEntry is a session-independent registration in the global directory
type DirectoryEntry struct {
	DeviceID     string     `json:"deviceId"`
	DisplayName  string     `json:"displayName"`
	Username     string     `json:"username,omitempty"`
	Kind         DeviceKind `json:"kind,omitempty"`
	RegisteredAt time.Time  `json:"registeredAt"`
}
