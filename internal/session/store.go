// Package session holds the in-memory session store and the per-session
// lifecycle state machine.
//
// The Store is not safe for concurrent use; the relay event loop owns it.
package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

const (
	// CodeLength is the number of digits in a join code
	CodeLength = 6

	maxCodeAttempts = 20
)

var codeSpace = big.NewInt(1_000_000)

// Store maps session ids and join codes to sessions
type Store struct {
	sessions map[string]*Session
	codes    map[string]string // join code -> session id
	members  map[string]string // device id -> session id

	clock   clock.Clock
	ttl     time.Duration
	newCode func() (string, error)
}

// NewStore creates an empty store. Sessions expire ttl after creation.
func NewStore(clk clock.Clock, ttl time.Duration) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		sessions: make(map[string]*Session),
		codes:    make(map[string]string),
		members:  make(map[string]string),
		clock:    clk,
		ttl:      ttl,
		newCode:  randomCode,
	}
}

// randomCode returns a uniformly random 6-digit code
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to read random code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// ValidCode reports whether code is exactly six ASCII digits
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// CreateSession allocates a session owned by owner, seeding it as the first
// online member. Join codes are unique among non-expired sessions.
func (st *Store) CreateSession(ownerID string, owner models.DeviceInfo) (*Session, error) {
	now := st.clock.Now()

	code, err := st.allocateCode()
	if err != nil {
		return nil, err
	}

	dev := newDevice(ownerID, owner, now)
	s := newSession(uuid.NewString(), code, dev, now, st.ttl)

	st.sessions[s.ID] = s
	st.codes[code] = s.ID
	st.members[ownerID] = s.ID
	return s, nil
}

func (st *Store) allocateCode() (string, error) {
	now := st.clock.Now()
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := st.newCode()
		if err != nil {
			return "", err
		}
		id, taken := st.codes[code]
		if !taken {
			return code, nil
		}
		// An expired session awaiting the sweep does not hold its code
		if s, ok := st.sessions[id]; !ok || s.IsExpired(now) {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Get returns a live session by id
func (st *Store) Get(id string) (*Session, error) {
	s, ok := st.sessions[id]
	if !ok || s.IsExpired(st.clock.Now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

// FindByCode returns the live session holding code
func (st *Store) FindByCode(code string) (*Session, error) {
	id, ok := st.codes[strings.TrimSpace(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Get(id)
}

// Lookup returns a session by id without the expiry check
func (st *Store) Lookup(id string) (*Session, bool) {
	s, ok := st.sessions[id]
	return s, ok
}

// SessionOf returns the session a device is attached to, expired or not
func (st *Store) SessionOf(deviceID string) (*Session, bool) {
	id, ok := st.members[deviceID]
	if !ok {
		return nil, false
	}
	s, ok := st.sessions[id]
	return s, ok
}

// AddOrReconnectDevice adds a device to a live session. A device that is
// already a member is marked online again instead of being duplicated.
func (st *Store) AddOrReconnectDevice(sessionID, deviceID string, info models.DeviceInfo) (*models.Device, bool, error) {
	s, err := st.Get(sessionID)
	if err != nil {
		return nil, false, err
	}

	now := st.clock.Now()
	st.members[deviceID] = s.ID

	if d, exists := s.devices[deviceID]; exists {
		d.Online = true
		d.LastSeen = now
		if info.DisplayName != "" {
			d.DisplayName = info.DisplayName
		}
		if info.Username != "" {
			d.Username = info.Username
		}
		if info.Kind != "" {
			d.Kind = info.Kind
		}
		return cloneDevice(d), true, nil
	}

	d := newDevice(deviceID, info, now)
	s.devices[deviceID] = d
	return cloneDevice(d), false, nil
}

// MarkOffline flags a member offline. The device stays in the session.
func (st *Store) MarkOffline(sessionID, deviceID string) (*models.Device, error) {
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrForbidden
	}
	d.Online = false
	d.LastSeen = st.clock.Now()
	return cloneDevice(d), nil
}

// Detach marks a member offline and unbinds it from the session so later
// messages from that device are no longer routed through it.
func (st *Store) Detach(sessionID, deviceID string) (*models.Device, error) {
	d, err := st.MarkOffline(sessionID, deviceID)
	if err != nil {
		return nil, err
	}
	if st.members[deviceID] == sessionID {
		delete(st.members, deviceID)
	}
	return d, nil
}

// UpdateDevice applies a status update to a member
func (st *Store) UpdateDevice(sessionID, deviceID string, upd models.DeviceUpdate) (*models.Device, error) {
	s, err := st.Get(sessionID)
	if err != nil {
		return nil, err
	}
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrForbidden
	}

	if upd.DisplayName != nil {
		d.DisplayName = *upd.DisplayName
	}
	if upd.Kind != nil {
		d.Kind = *upd.Kind
	}
	if upd.Permissions != nil {
		d.Permissions = *upd.Permissions
	}
	d.LastSeen = st.clock.Now()
	return cloneDevice(d), nil
}

// RemoveSessionIfEmpty deletes the session when no member is online
func (st *Store) RemoveSessionIfEmpty(sessionID string) bool {
	s, ok := st.sessions[sessionID]
	if !ok || s.OnlineCount() > 0 {
		return false
	}
	st.Delete(sessionID)
	return true
}

// Delete removes a session, its code and its member bindings. Groups go with it.
func (st *Store) Delete(sessionID string) *Session {
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(st.sessions, sessionID)
	if st.codes[s.Code] == sessionID {
		delete(st.codes, s.Code)
	}
	for id := range s.devices {
		if st.members[id] == sessionID {
			delete(st.members, id)
		}
	}
	return s
}

// Expired returns the sessions past their TTL at now
func (st *Store) Expired(now time.Time) []*Session {
	var list []*Session
	for _, s := range st.sessions {
		if now.After(s.ExpiresAt) {
			list = append(list, s)
		}
	}
	sortSessions(list)
	return list
}

// All returns every stored session ordered by creation time
func (st *Store) All() []*Session {
	list := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		list = append(list, s)
	}
	sortSessions(list)
	return list
}

// Len returns the number of stored sessions
func (st *Store) Len() int {
	return len(st.sessions)
}

func sortSessions(list []*Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func newDevice(id string, info models.DeviceInfo, now time.Time) *models.Device {
	kind := info.Kind
	if kind == "" {
		kind = models.DeviceKindDesktop
	}
	return &models.Device{
		ID:          id,
		DisplayName: info.DisplayName,
		Username:    info.Username,
		Kind:        kind,
		Online:      true,
		JoinedAt:    now,
		LastSeen:    now,
	}
}
