package relay

import (
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// signalKinds maps the relayed message types onto SignalEnvelope kinds
var signalKinds = map[string]string{
	models.TypeWebRTCOffer:        "offer",
	models.TypeWebRTCAnswer:       "answer",
	models.TypeWebRTCICECandidate: "ice-candidate",
}

// handleSignal forwards WebRTC negotiation verbatim between two members of
// the same session. Data is never inspected.
func (s *Server) handleSignal(c *Conn, msg *models.Message) error {
	var p models.SignalPayload
	if err := decodePayload(msg, &p); err != nil {
		return err
	}
	if p.ToDevice == "" {
		return invalid("toDevice", "is required")
	}
	if len(p.Data) == 0 || string(p.Data) == "null" {
		return invalid("data", "is required")
	}

	id := c.DeviceID()
	if p.ToDevice == id {
		return invalid("toDevice", "cannot signal yourself")
	}
	sess, err := s.currentSession(id)
	if err != nil {
		return err
	}
	if err := s.deliverable(sess, p.ToDevice); err != nil {
		return err
	}

	kind := signalKinds[msg.Type]
	env := s.envelope(msg.Type, sess.ID, models.SignalEnvelope{
		Kind:       kind,
		SessionID:  sess.ID,
		FromDevice: id,
		ToDevice:   p.ToDevice,
		Purpose:    p.Purpose,
		Data:       p.Data,
	})
	if !s.sendTo(p.ToDevice, env) {
		return ErrTargetUnreachable
	}

	s.metrics.SignalRelayed(kind)
	s.logger.Debug("Signal relayed",
		"session_id", sess.ID,
		"kind", kind,
		"purpose", p.Purpose,
		"from", id,
		"to", p.ToDevice,
	)
	return nil
}

// handleTurnRequest sends TURN credentials for the remote-access media path
func (s *Server) handleTurnRequest(c *Conn, msg *models.Message) error {
	if s.turn == nil {
		return ErrTurnDisabled
	}

	c.Send(s.envelope(models.TypeTurnCredentials, msg.SessionID, s.turn.TurnCredentials(c.DeviceID())))
	return nil
}
