package relay

import (
	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/session"
)

func (s *Server) handleSessionCreate(c *Conn, msg *models.Message) error {
	var p models.SessionCreatePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if err := validateDeviceInfo(p.Device, true); err != nil {
		return err
	}

	id := c.DeviceID()
	s.leaveCurrent(id)

	sess, err := s.sessions.CreateSession(id, p.Device)
	if err != nil {
		return err
	}

	s.metrics.SessionCreated()
	s.metrics.SetActiveSessions(s.sessions.Len())
	if s.history != nil {
		s.history.SessionStarted(models.SessionRecord{
			ID:          sess.ID,
			Code:        sess.Code,
			CreatedBy:   id,
			DeviceCount: 1,
			CreatedAt:   sess.CreatedAt,
			ExpiresAt:   sess.ExpiresAt,
		})
	}

	s.logger.Info("Session created",
		"session_id", sess.ID,
		"owner", id,
		"expires_at", sess.ExpiresAt,
	)

	c.Send(s.envelope(models.TypeSessionCreated, sess.ID, models.SessionCreated{
		SessionID: sess.ID,
		Code:      sess.Code,
		ExpiresAt: sess.ExpiresAt,
	}))
	return nil
}

func (s *Server) handleSessionJoin(c *Conn, msg *models.Message) error {
	var p models.SessionJoinPayload
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
	}

	var sess *session.Session
	var err error
	switch {
	case p.Code != "":
		if !session.ValidCode(p.Code) {
			return invalid("code", "must be %d digits", session.CodeLength)
		}
		sess, err = s.sessions.FindByCode(p.Code)
	case msg.SessionID != "":
		sess, err = s.sessions.Get(msg.SessionID)
	default:
		return invalid("code", "code or sessionId is required")
	}
	if err != nil {
		return err
	}

	id := c.DeviceID()
	if err := validateDeviceInfo(p.Device, !sess.HasDevice(id)); err != nil {
		return err
	}

	if current, ok := s.sessions.SessionOf(id); ok && current.ID != sess.ID {
		s.leaveCurrent(id)
	}

	dev, reconnected, err := s.sessions.AddOrReconnectDevice(sess.ID, id, p.Device)
	if err != nil {
		return err
	}

	if sess.IsOwner(id) && sess.State() == session.StateOwnerGraceWait {
		s.cancelGrace(sess.ID)
		if err := sess.ResumeActive(); err != nil {
			return err
		}
		s.logger.Info("Owner reconnected within grace period", "session_id", sess.ID, "owner", id)
	}

	s.logger.Info("Device joined session",
		"session_id", sess.ID,
		"device_id", id,
		"reconnected", reconnected,
	)

	c.Send(s.envelope(models.TypeSessionJoined, sess.ID, models.SessionJoined{
		SessionID: sess.ID,
		Code:      sess.Code,
		CreatedBy: sess.CreatedBy,
		ExpiresAt: sess.ExpiresAt,
		Devices:   sess.Devices(),
		Groups:    sess.Groups(),
	}))
	s.broadcast(sess, id, s.envelope(models.TypeDeviceConnected, sess.ID, models.DeviceEvent{Device: dev}))
	return nil
}

func (s *Server) handleSessionLeave(c *Conn, msg *models.Message) error {
	id := c.DeviceID()
	sess, ok := s.sessions.SessionOf(id)
	if !ok {
		return session.ErrNotFound
	}
	s.leave(sess, id)
	return nil
}

// leaveCurrent makes a device leave whatever session it is attached to
func (s *Server) leaveCurrent(deviceID string) {
	if sess, ok := s.sessions.SessionOf(deviceID); ok {
		s.leave(sess, deviceID)
	}
}

// leave handles an explicit departure. The owner leaving ends the session at once.
func (s *Server) leave(sess *session.Session, deviceID string) {
	if sess.IsOwner(deviceID) {
		s.expire(sess, models.ExpiryOwnerLeft)
		return
	}

	if _, err := s.sessions.Detach(sess.ID, deviceID); err != nil {
		return
	}
	s.logger.Info("Device left session", "session_id", sess.ID, "device_id", deviceID)

	if s.removeIfEmpty(sess) {
		return
	}
	s.broadcast(sess, deviceID, s.envelope(models.TypeDeviceDisconnected, sess.ID, models.DeviceDisconnected{
		DeviceID: deviceID,
		Left:     true,
	}))
}

// handleDisconnect applies a transport drop to the device's session
func (s *Server) handleDisconnect(sess *session.Session, deviceID string) {
	if _, err := s.sessions.MarkOffline(sess.ID, deviceID); err != nil {
		return
	}
	if s.removeIfEmpty(sess) {
		return
	}

	if sess.IsOwner(deviceID) && sess.State() == session.StateActive {
		s.startGrace(sess)
	}

	s.broadcast(sess, deviceID, s.envelope(models.TypeDeviceDisconnected, sess.ID, models.DeviceDisconnected{
		DeviceID: deviceID,
	}))
}

// removeIfEmpty deletes a session nobody is online in. No one is left to notify.
func (s *Server) removeIfEmpty(sess *session.Session) bool {
	if sess.OnlineCount() > 0 {
		return false
	}

	s.cancelGrace(sess.ID)
	sess.Expire()
	if !s.sessions.RemoveSessionIfEmpty(sess.ID) {
		return false
	}
	s.recordEnd(sess, models.ExpiryEmpty)

	s.logger.Info("Session removed, no devices online", "session_id", sess.ID)
	return true
}

// startGrace gives a disconnected owner OwnerGracePeriod to come back
func (s *Server) startGrace(sess *session.Session) {
	deadline := s.clock.Now().Add(s.config.OwnerGracePeriod)
	if err := sess.EnterOwnerGrace(deadline); err != nil {
		s.logger.Error("Cannot start owner grace period", "session_id", sess.ID, "error", err)
		return
	}

	s.cancelGrace(sess.ID)
	s.nextToken++
	token := s.nextToken
	id := sess.ID

	timer := s.clock.AfterFunc(s.config.OwnerGracePeriod, func() {
		s.post(func() { s.ownerGraceExpired(id, token) })
	})
	s.timers[id] = &graceTimer{timer: timer, token: token}

	s.logger.Info("Owner disconnected, grace period started",
		"session_id", id,
		"deadline", deadline,
	)
}

// cancelGrace stops a pending grace timer. Safe to call at any time.
func (s *Server) cancelGrace(sessionID string) {
	if t, ok := s.timers[sessionID]; ok {
		t.timer.Stop()
		delete(s.timers, sessionID)
	}
}

func (s *Server) ownerGraceExpired(sessionID string, token uint64) {
	t, ok := s.timers[sessionID]
	if !ok || t.token != token {
		return
	}
	delete(s.timers, sessionID)

	sess, ok := s.sessions.Lookup(sessionID)
	if !ok || sess.State() != session.StateOwnerGraceWait {
		return
	}
	if owner, ok := sess.Owner(); ok && owner.Online {
		sess.ResumeActive()
		return
	}

	s.expire(sess, models.ExpiryOwnerTimeout)
}

// sweep expires sessions past their TTL
func (s *Server) sweep() {
	for _, sess := range s.sessions.Expired(s.clock.Now()) {
		s.expire(sess, models.ExpiryTTL)
	}
}

// expire notifies every online member, closes their connections once the
// notice is written and deletes the session
func (s *Server) expire(sess *session.Session, reason string) {
	s.cancelGrace(sess.ID)
	if err := sess.Expire(); err != nil {
		return
	}

	env := s.envelope(models.TypeSessionExpired, sess.ID, models.SessionExpired{Reason: reason})
	for _, id := range sess.OnlineDeviceIDs() {
		h, ok := s.registry.Resolve(id)
		if !ok {
			continue
		}
		h.Send(env)
		// The leaving owner keeps its connection
		if reason == models.ExpiryOwnerLeft && sess.IsOwner(id) {
			continue
		}
		h.CloseAfterFlush()
	}

	s.sessions.Delete(sess.ID)
	s.recordEnd(sess, reason)

	s.logger.Info("Session expired",
		"session_id", sess.ID,
		"reason", reason,
		"devices", sess.DeviceCount(),
	)
}

func (s *Server) recordEnd(sess *session.Session, reason string) {
	s.metrics.SessionExpired(reason)
	s.metrics.SetActiveSessions(s.sessions.Len())
	if s.history != nil {
		s.history.SessionEnded(sess.ID, s.clock.Now(), reason, sess.DeviceCount())
	}
}

// broadcast sends env to every online member except the excluded device
// and returns how many accepted it
func (s *Server) broadcast(sess *session.Session, except string, env *models.Envelope) int {
	n := 0
	for _, id := range sess.OnlineDeviceIDs() {
		if id == except {
			continue
		}
		if s.sendTo(id, env) {
			n++
		}
	}
	return n
}
