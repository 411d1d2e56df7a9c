package relay

import (
	"strings"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// handleDeviceRegister adds the device to the global directory so it can be
// invited by username and hear about nearby sessions
func (s *Server) handleDeviceRegister(c *Conn, msg *models.Message) error {
	var info models.DeviceInfo
	if err := decodePayload(msg, &info); err != nil {
		return err
	}
	if err := validateDeviceInfo(info, true); err != nil {
		return err
	}

	id := c.DeviceID()
	s.directory.Register(models.DirectoryEntry{
		DeviceID:     id,
		DisplayName:  strings.TrimSpace(info.DisplayName),
		Username:     strings.TrimSpace(info.Username),
		Kind:         info.Kind,
		RegisteredAt: s.clock.Now(),
	})

	s.logger.Debug("Device registered in directory", "device_id", id, "username", info.Username)
	c.Send(s.envelope(models.TypeDeviceRegistered, "", models.DeviceRegistered{DeviceID: id}))
	return nil
}

// handleSessionInvitation invites every device of a username to the sender's session
func (s *Server) handleSessionInvitation(c *Conn, msg *models.Message) error {
	var p models.SessionInvitationPayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Username) == "" {
		return invalid("username", "is required")
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}
	from, _ := sess.Device(id)

	env := s.envelope(models.TypeSessionInvitation, sess.ID, models.SessionInvitation{
		FromDevice: id,
		FromName:   from.DisplayName,
		SessionID:  sess.ID,
		Code:       sess.Code,
		Message:    p.Message,
	})

	reached := 0
	for _, entry := range s.directory.ByUsername(p.Username) {
		if entry.DeviceID == id {
			continue
		}
		if s.sendTo(entry.DeviceID, env) {
			reached++
		}
	}
	if reached == 0 {
		return ErrTargetUnreachable
	}

	s.logger.Debug("Session invitation sent", "session_id", sess.ID, "username", p.Username, "reached", reached)
	return nil
}

// handleInvitationResponse forwards an answer to an invitation. The
// responder is usually not in any session yet.
func (s *Server) handleInvitationResponse(c *Conn, msg *models.Message) error {
	var p models.InvitationResponsePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.ToDevice == "" {
		return invalid("toDevice", "is required")
	}

	p.FromDevice = c.DeviceID()
	if !s.sendTo(p.ToDevice, s.envelope(models.TypeInvitationResponse, p.SessionID, p)) {
		return ErrTargetUnreachable
	}
	return nil
}

// handleNearbySessionBroadcast announces the sender's session to every
// registered device outside it
func (s *Server) handleNearbySessionBroadcast(c *Conn, msg *models.Message) error {
	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	ownerName := ""
	if owner, ok := sess.Owner(); ok {
		ownerName = owner.DisplayName
	}
	env := s.envelope(models.TypeNearbySession, sess.ID, models.NearbySession{
		SessionID:   sess.ID,
		Code:        sess.Code,
		OwnerName:   ownerName,
		DeviceCount: sess.DeviceCount(),
	})

	total, reached := 0, 0
	for _, entry := range s.directory.All() {
		if sess.HasDevice(entry.DeviceID) {
			continue
		}
		total++
		if s.sendTo(entry.DeviceID, env) {
			reached++
		}
	}

	c.Send(s.envelope(models.TypeNearbySessionBroadcastSent, sess.ID, models.BroadcastResult{
		DevicesReached: reached,
		TotalDevices:   total,
	}))
	return nil
}
