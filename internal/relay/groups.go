package relay

import (
	"strings"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

func (s *Server) handleGroupCreate(c *Conn, msg *models.Message) error {
	var p models.GroupCreatePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if err := validateGroupName(p.Name); err != nil {
		return err
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	group, err := s.sessions.CreateGroup(sess.ID, id, strings.TrimSpace(p.Name), p.DeviceIDs, p.Color)
	if err != nil {
		return err
	}

	s.logger.Debug("Group created", "session_id", sess.ID, "group_id", group.ID, "devices", len(group.DeviceIDs))
	s.broadcast(sess, "", s.envelope(models.TypeGroupCreated, sess.ID, models.GroupEvent{Group: group}))
	return nil
}

func (s *Server) handleGroupUpdate(c *Conn, msg *models.Message) error {
	var p models.GroupUpdatePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.GroupID == "" {
		return invalid("groupId", "is required")
	}
	if p.Name != nil {
		if err := validateGroupName(*p.Name); err != nil {
			return err
		}
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	group, err := s.sessions.UpdateGroup(sess.ID, id, p)
	if err != nil {
		return err
	}

	s.broadcast(sess, "", s.envelope(models.TypeGroupUpdated, sess.ID, models.GroupEvent{Group: group}))
	return nil
}

func (s *Server) handleGroupDelete(c *Conn, msg *models.Message) error {
	var p models.GroupDeletePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.GroupID == "" {
		return invalid("groupId", "is required")
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteGroup(sess.ID, id, p.GroupID); err != nil {
		return err
	}

	s.broadcast(sess, "", s.envelope(models.TypeGroupDeleted, sess.ID, models.GroupDeleted{GroupID: p.GroupID}))
	return nil
}

// handleDeviceStatusUpdate mirrors a device's name, kind or permissions to the session
func (s *Server) handleDeviceStatusUpdate(c *Conn, msg *models.Message) error {
	var upd models.DeviceUpdate
	if err := decodePayload(msg, &upd); err != nil {
		return err
	}
	if upd.DisplayName != nil {
		if err := validateDeviceInfo(models.DeviceInfo{DisplayName: *upd.DisplayName}, true); err != nil {
			return err
		}
	}
	if upd.Kind != nil && !upd.Kind.Valid() {
		return invalid("kind", "unknown kind %q", *upd.Kind)
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	dev, err := s.sessions.UpdateDevice(sess.ID, id, upd)
	if err != nil {
		return err
	}

	if entry, ok := s.directory.Get(id); ok {
		entry.DisplayName = dev.DisplayName
		entry.Kind = dev.Kind
		s.directory.Register(entry)
	}

	s.broadcast(sess, "", s.envelope(models.TypeDeviceStatusUpdate, sess.ID, models.DeviceEvent{Device: dev}))
	return nil
}
