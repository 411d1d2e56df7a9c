package session

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// CreateGroup adds a named group to a session. The creator and every listed
// device must be members of the session.
func (st *Store) CreateGroup(sessionID, createdBy, name string, deviceIDs []string, color string) (*models.Group, error) {
	s, err := st.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.HasDevice(createdBy) {
		return nil, ErrForbidden
	}
	ids, err := memberIDs(s, deviceIDs)
	if err != nil {
		return nil, err
	}

	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      name,
		DeviceIDs: ids,
		CreatedBy: createdBy,
		CreatedAt: st.clock.Now(),
		Color:     color,
	}
	s.groups[g.ID] = g
	return cloneGroup(g), nil
}

// UpdateGroup applies the non-nil fields of upd
func (st *Store) UpdateGroup(sessionID, deviceID string, upd models.GroupUpdatePayload) (*models.Group, error) {
	s, g, err := st.groupFor(sessionID, deviceID, upd.GroupID)
	if err != nil {
		return nil, err
	}

	if upd.DeviceIDs != nil {
		ids, err := memberIDs(s, *upd.DeviceIDs)
		if err != nil {
			return nil, err
		}
		g.DeviceIDs = ids
	}
	if upd.Name != nil {
		g.Name = *upd.Name
	}
	if upd.Color != nil {
		g.Color = *upd.Color
	}
	return cloneGroup(g), nil
}

// DeleteGroup removes a group from a session
func (st *Store) DeleteGroup(sessionID, deviceID, groupID string) error {
	s, _, err := st.groupFor(sessionID, deviceID, groupID)
	if err != nil {
		return err
	}
	delete(s.groups, groupID)
	return nil
}

// Group returns a copy of one group
func (st *Store) Group(sessionID, groupID string) (*models.Group, error) {
	s, err := st.Get(sessionID)
	if err != nil {
		return nil, err
	}
	g, ok := s.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

func (st *Store) groupFor(sessionID, deviceID, groupID string) (*Session, *models.Group, error) {
	s, err := st.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !s.HasDevice(deviceID) {
		return nil, nil, ErrForbidden
	}
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil, ErrGroupNotFound
	}
	return s, g, nil
}

// memberIDs dedupes ids and checks each one belongs to s
func memberIDs(s *Session, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if !s.HasDevice(id) {
			return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
