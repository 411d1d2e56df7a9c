package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// State is the lifecycle state of a session
type State int

const (
	StateActive State = iota
	StateOwnerGraceWait
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateOwnerGraceWait:
		return "owner_grace_wait"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is an ephemeral, code-addressable group of devices.
// Identity fields are fixed at creation; membership changes go through the Store.
type Session struct {
	ID        string
	Code      string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time

	devices map[string]*models.Device
	groups  map[string]*models.Group

	state         State
	graceDeadline time.Time
}

func newSession(id, code string, owner *models.Device, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        id,
		Code:      code,
		CreatedBy: owner.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		devices:   map[string]*models.Device{owner.ID: owner},
		groups:    make(map[string]*models.Group),
		state:     StateActive,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state
}

// GraceDeadline returns the owner grace deadline while in StateOwnerGraceWait
func (s *Session) GraceDeadline() (time.Time, bool) {
	if s.state != StateOwnerGraceWait {
		return time.Time{}, false
	}
	return s.graceDeadline, true
}

// EnterOwnerGrace moves an active session into the owner grace wait
func (s *Session) EnterOwnerGrace(deadline time.Time) error {
	if s.state != StateActive {
		return &TransitionError{From: s.state, To: StateOwnerGraceWait}
	}
	s.state = StateOwnerGraceWait
	s.graceDeadline = deadline
	return nil
}

// ResumeActive leaves the grace wait after the owner reconnects
func (s *Session) ResumeActive() error {
	if s.state != StateOwnerGraceWait {
		return &TransitionError{From: s.state, To: StateActive}
	}
	s.state = StateActive
	s.graceDeadline = time.Time{}
	return nil
}

// Expire is terminal. It is valid from any non-expired state.
func (s *Session) Expire() error {
	if s.state == StateExpired {
		return &TransitionError{From: s.state, To: StateExpired}
	}
	s.state = StateExpired
	s.graceDeadline = time.Time{}
	return nil
}

// IsExpired reports whether the session is past its TTL or already expired
func (s *Session) IsExpired(now time.Time) bool {
	return s.state == StateExpired || now.After(s.ExpiresAt)
}

// IsOwner reports whether deviceID created the session
func (s *Session) IsOwner(deviceID string) bool {
	return s.CreatedBy == deviceID
}

// HasDevice reports whether deviceID is a member, online or not
func (s *Session) HasDevice(deviceID string) bool {
	_, ok := s.devices[deviceID]
	return ok
}

// Device returns a copy of a member device
func (s *Session) Device(deviceID string) (*models.Device, bool) {
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, false
	}
	return cloneDevice(d), true
}

// DeviceCount returns the number of member devices, online or not
func (s *Session) DeviceCount() int {
	return len(s.devices)
}

// OnlineCount returns the number of members currently online
func (s *Session) OnlineCount() int {
	n := 0
	for _, d := range s.devices {
		if d.Online {
			n++
		}
	}
	return n
}

// OnlineDeviceIDs returns the ids of online members, sorted
func (s *Session) OnlineDeviceIDs() []string {
	ids := make([]string, 0, len(s.devices))
	for id, d := range s.devices {
		if d.Online {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Devices returns copies of all members ordered by join time
func (s *Session) Devices() []*models.Device {
	list := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		list = append(list, cloneDevice(d))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

// Groups returns copies of all groups ordered by creation time
func (s *Session) Groups() []*models.Group {
	list := make([]*models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		list = append(list, cloneGroup(g))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Owner returns a copy of the owner device
func (s *Session) Owner() (*models.Device, bool) {
	return s.Device(s.CreatedBy)
}

func cloneDevice(d *models.Device) *models.Device {
	cp := *d
	return &cp
}

func cloneGroup(g *models.Group) *models.Group {
	cp := *g
	cp.DeviceIDs = append([]string(nil), g.DeviceIDs...)
	return &cp
}
