package relay

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/handoff-relay/handoff/internal/metrics"
	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/session"
)

// currentSession resolves the live session a device is attached to and online in
func (s *Server) currentSession(deviceID string) (*session.Session, error) {
	sess, ok := s.sessions.SessionOf(deviceID)
	if !ok || sess.IsExpired(s.clock.Now()) {
		return nil, session.ErrNotFound
	}
	// A member that dropped must session_join again before it may act
	if dev, ok := sess.Device(deviceID); !ok || !dev.Online {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// deliverable reports whether target is an online member with a live connection
func (s *Server) deliverable(sess *session.Session, target string) error {
	dev, ok := sess.Device(target)
	if !ok {
		return session.ErrForbidden
	}
	if !dev.Online || !s.registry.IsOnline(target) {
		return ErrTargetUnreachable
	}
	return nil
}

// stampIntent fills the server-owned fields of an outgoing intent
func (s *Server) stampIntent(in *models.Intent, source string) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp == 0 {
		in.Timestamp = s.clock.Now().UnixMilli()
	}
	in.SourceDevice = source
}

// deliverIntent forwards one intent to target. Delivery is at-most-once.
func (s *Server) deliverIntent(sess *session.Session, in models.Intent, target string) error {
	if err := s.deliverable(sess, target); err != nil {
		if errors.Is(err, ErrTargetUnreachable) {
			s.metrics.Intent(in.Type, metrics.OutcomeUnreachable)
		}
		return err
	}

	in.TargetDevice = target
	env := s.envelope(models.TypeIntentReceived, sess.ID, models.IntentReceived{
		Intent:       in,
		SourceDevice: in.SourceDevice,
	})
	if !s.sendTo(target, env) {
		s.metrics.Intent(in.Type, metrics.OutcomeUnreachable)
		return ErrTargetUnreachable
	}

	s.metrics.Intent(in.Type, metrics.OutcomeDelivered)
	return nil
}

func (s *Server) handleIntentSend(c *Conn, msg *models.Message) error {
	var p models.IntentSendPayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if err := validateIntent(&p.Intent, true); err != nil {
		s.metrics.Intent(p.Intent.Type, metrics.OutcomeRejected)
		return err
	}

	id := c.DeviceID()
	if p.Intent.TargetDevice == id {
		s.metrics.Intent(p.Intent.Type, metrics.OutcomeRejected)
		return invalid("intent.targetDevice", "cannot target yourself")
	}
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	in := p.Intent
	s.stampIntent(&in, id)
	if err := s.deliverIntent(sess, in, in.TargetDevice); err != nil {
		return err
	}

	s.logger.Debug("Intent delivered",
		"session_id", sess.ID,
		"intent_id", in.ID,
		"type", in.Type,
		"from", id,
		"to", in.TargetDevice,
	)

	c.Send(s.envelope(models.TypeIntentSent, sess.ID, models.IntentSent{
		IntentID:     in.ID,
		TargetDevice: in.TargetDevice,
	}))
	return nil
}

// handleIntentResponse relays intent_accepted and intent_rejected back to
// the device that sent the original intent
func (s *Server) handleIntentResponse(c *Conn, msg *models.Message) error {
	var p models.IntentResponsePayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.TargetDevice == "" {
		return invalid("targetDevice", "is required")
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}
	if err := s.deliverable(sess, p.TargetDevice); err != nil {
		return err
	}

	p.FromDevice = id
	if !s.sendTo(p.TargetDevice, s.envelope(msg.Type, sess.ID, p)) {
		return ErrTargetUnreachable
	}
	return nil
}

func (s *Server) handleGroupBroadcast(c *Conn, msg *models.Message) error {
	var p models.GroupBroadcastPayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.GroupID == "" {
		return invalid("groupId", "is required")
	}
	if err := validateIntent(&p.Intent, false); err != nil {
		return err
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}
	group, err := s.sessions.Group(sess.ID, p.GroupID)
	if err != nil {
		return err
	}

	targets := make([]string, 0, len(group.DeviceIDs))
	for _, target := range group.DeviceIDs {
		if target != id {
			targets = append(targets, target)
		}
	}

	in := p.Intent
	s.stampIntent(&in, id)
	reached := s.fanOut(sess, in, targets)

	s.logger.Debug("Group broadcast",
		"session_id", sess.ID,
		"group_id", group.ID,
		"reached", reached,
		"total", len(targets),
	)

	c.Send(s.envelope(models.TypeGroupBroadcastSent, sess.ID, models.BroadcastResult{
		GroupID:        group.ID,
		DevicesReached: reached,
		TotalDevices:   len(targets),
	}))
	return nil
}

// handleClipboardBroadcast mirrors clipboard text to every other online member
func (s *Server) handleClipboardBroadcast(c *Conn, msg *models.Message) error {
	var p models.ClipboardBroadcastPayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.Text == "" {
		return invalid("text", "is required")
	}
	if len(p.Text) > maxTextBytes {
		return invalid("text", "exceeds %d bytes", maxTextBytes)
	}

	id := c.DeviceID()
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(models.ClipboardSyncPayload{Text: p.Text})
	if err != nil {
		return err
	}
	in := models.Intent{
		Type:     models.IntentClipboardSync,
		Payload:  payload,
		AutoOpen: p.AutoOpen,
	}
	s.stampIntent(&in, id)

	var targets []string
	for _, target := range sess.OnlineDeviceIDs() {
		if target != id {
			targets = append(targets, target)
		}
	}
	reached := s.fanOut(sess, in, targets)

	c.Send(s.envelope(models.TypeClipboardBroadcastSent, sess.ID, models.BroadcastResult{
		DevicesReached: reached,
		TotalDevices:   len(targets),
	}))
	return nil
}

// fanOut attempts delivery to each target independently and counts successes
func (s *Server) fanOut(sess *session.Session, in models.Intent, targets []string) int {
	reached := 0
	for _, target := range targets {
		if err := s.deliverIntent(sess, in, target); err == nil {
			reached++
		}
	}
	s.metrics.BroadcastReached(reached)
	return reached
}
