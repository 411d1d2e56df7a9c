package models

import (
	"encoding/json"
	"time"
)

// Inbound message types
const (
	TypeSessionCreate          = "session_create"
	TypeSessionJoin            = "session_join"
	TypeSessionLeave           = "session_leave"
	TypeDeviceRegister         = "device_register"
	TypeDeviceStatusUpdate     = "device_status_update"
	TypeIntentSend             = "intent_send"
	TypeIntentAccepted         = "intent_accepted"
	TypeIntentRejected         = "intent_rejected"
	TypeClipboardBroadcast     = "clipboard_broadcast"
	TypeGroupCreate            = "group_create"
	TypeGroupUpdate            = "group_update"
	TypeGroupDelete            = "group_delete"
	TypeGroupBroadcast         = "group_broadcast"
	TypeWebRTCOffer            = "webrtc_offer"
	TypeWebRTCAnswer           = "webrtc_answer"
	TypeWebRTCICECandidate     = "webrtc_ice_candidate"
	TypeSessionInvitation      = "session_invitation"
	TypeInvitationResponse     = "invitation_response"
	TypeNearbySessionBroadcast = "nearby_session_broadcast"
	TypeTurnRequest            = "turn_request"
)

// Outbound message types. Some inbound names are reused verbatim
// (device_status_update, session_invitation, invitation_response, webrtc_*,
// intent_accepted, intent_rejected).
const (
	TypeSessionCreated             = "session_created"
	TypeSessionJoined              = "session_joined"
	TypeSessionExpired             = "session_expired"
	TypeDeviceRegistered           = "device_registered"
	TypeDeviceConnected            = "device_connected"
	TypeDeviceDisconnected         = "device_disconnected"
	TypeIntentReceived             = "intent_received"
	TypeIntentSent                 = "intent_sent"
	TypeGroupCreated               = "group_created"
	TypeGroupUpdated               = "group_updated"
	TypeGroupDeleted               = "group_deleted"
	TypeGroupBroadcastSent         = "group_broadcast_sent"
	TypeClipboardBroadcastSent     = "clipboard_broadcast_sent"
	TypeNearbySession              = "nearby_session"
	TypeNearbySessionBroadcastSent = "nearby_session_broadcast_sent"
	TypeTurnCredentials            = "turn_credentials"
	TypeError                      = "error"
)

// Expiry reasons carried by session_expired
const (
	ExpiryOwnerTimeout = "owner_timeout"
	ExpiryOwnerLeft    = "owner_left"
	ExpiryTTL          = "ttl"
	ExpiryShutdown     = "shutdown"
	ExpiryEmpty        = "empty"
)

// Message is an inbound frame. Payload is decoded per type by the relay.
// Timestamp is milliseconds since the epoch; browsers may send fractions.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// UnixMilli returns the sender's timestamp truncated to whole milliseconds
func (m *Message) UnixMilli() int64 {
	return int64(m.Timestamp)
}

// Envelope is an outbound frame with a typed payload
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope stamps an outbound envelope with the given time
func NewEnvelope(msgType, sessionID string, payload any, now time.Time) *Envelope {
	return &Envelope{
		Type:      msgType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: now.UnixMilli(),
	}
}

// SessionCreatePayload is sent with session_create
type SessionCreatePayload struct {
	Device DeviceInfo `json:"device"`
}

// SessionJoinPayload is sent with session_join. Either Code or the
// envelope's sessionId identifies the session.
type SessionJoinPayload struct {
	Code   string     `json:"code,omitempty"`
	Device DeviceInfo `json:"device"`
}

// IntentSendPayload wraps the intent being sent
type IntentSendPayload struct {
	Intent Intent `json:"intent"`
}

// IntentResponsePayload is sent with intent_accepted and intent_rejected.
// TargetDevice is the original sender of the intent.
type IntentResponsePayload struct {
	IntentID     string          `json:"intentId,omitempty"`
	IntentType   string          `json:"intentType,omitempty"`
	TargetDevice string          `json:"targetDevice"`
	FromDevice   string          `json:"fromDevice,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// ClipboardBroadcastPayload is sent with clipboard_broadcast
type ClipboardBroadcastPayload struct {
	Text     string `json:"text"`
	AutoOpen bool   `json:"autoOpen"`
}

// GroupCreatePayload is sent with group_create
type GroupCreatePayload struct {
	Name      string   `json:"name"`
	DeviceIDs []string `json:"deviceIds"`
	Color     string   `json:"color,omitempty"`
}

// GroupUpdatePayload is sent with group_update. Nil fields are unchanged.
type GroupUpdatePayload struct {
	GroupID   string    `json:"groupId"`
	Name      *string   `json:"name,omitempty"`
	DeviceIDs *[]string `json:"deviceIds,omitempty"`
	Color     *string   `json:"color,omitempty"`
}

// GroupDeletePayload is sent with group_delete
type GroupDeletePayload struct {
	GroupID string `json:"groupId"`
}

// GroupBroadcastPayload is sent with group_broadcast
type GroupBroadcastPayload struct {
	GroupID string `json:"groupId"`
	Intent  Intent `json:"intent"`
}

// SignalPayload is the inbound body of webrtc_offer, webrtc_answer and
// webrtc_ice_candidate. Data is never inspected.
type SignalPayload struct {
	ToDevice string          `json:"toDevice"`
	Purpose  string          `json:"purpose,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// SessionInvitationPayload is the inbound body of session_invitation
type SessionInvitationPayload struct {
	Username string `json:"username"`
	Message  string `json:"message,omitempty"`
}

// InvitationResponsePayload is the body of invitation_response in both directions
type InvitationResponsePayload struct {
	ToDevice   string `json:"toDevice"`
	FromDevice string `json:"fromDevice,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Accepted   bool   `json:"accepted"`
	Message    string `json:"message,omitempty"`
}

// SessionCreated is the body of session_created
type SessionCreated struct {
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionJoined is the body of session_joined: the current snapshot only
type SessionJoined struct {
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"createdBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	Devices   []*Device `json:"devices"`
	Groups    []*Group  `json:"groups"`
}

// SessionExpired is the body of session_expired
type SessionExpired struct {
	Reason string `json:"reason"`
}

// DeviceRegistered acknowledges device_register
type DeviceRegistered struct {
	DeviceID string `json:"deviceId"`
}

// DeviceEvent is the body of device_connected and device_status_update
type DeviceEvent struct {
	Device *Device `json:"device"`
}

// DeviceDisconnected is the body of device_disconnected
type DeviceDisconnected struct {
	DeviceID string `json:"deviceId"`
	Left     bool   `json:"left,omitempty"`
}

// IntentReceived is delivered to the target of an intent
type IntentReceived struct {
	Intent       Intent `json:"intent"`
	SourceDevice string `json:"sourceDevice"`
}

// IntentSent acknowledges delivery to the sender; it does not imply acceptance
type IntentSent struct {
	IntentID     string `json:"intentId,omitempty"`
	TargetDevice string `json:"targetDevice"`
}

// GroupEvent is the body of group_created and group_updated
type GroupEvent struct {
	Group *Group `json:"group"`
}

// GroupDeleted is the body of group_deleted
type GroupDeleted struct {
	GroupID string `json:"groupId"`
}

// BroadcastResult reports partial delivery of a fan-out
type BroadcastResult struct {
	GroupID        string `json:"groupId,omitempty"`
	DevicesReached int    `json:"devicesReached"`
	TotalDevices   int    `json:"totalDevices"`
}

// SignalEnvelope is a WebRTC negotiation message forwarded between two devices
type SignalEnvelope struct {
	Kind       string          `json:"kind"`
	SessionID  string          `json:"sessionId"`
	FromDevice string          `json:"fromDevice"`
	ToDevice   string          `json:"toDevice"`
	Purpose    string          `json:"purpose,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// SessionInvitation is delivered to every device of the invited username
type SessionInvitation struct {
	FromDevice string `json:"fromDevice"`
	FromName   string `json:"fromName"`
	SessionID  string `json:"sessionId"`
	Code       string `json:"code"`
	Message    string `json:"message,omitempty"`
}

// NearbySession tells devices outside a session that it exists
type NearbySession struct {
	SessionID   string `json:"sessionId"`
	Code        string `json:"code"`
	OwnerName   string `json:"ownerName"`
	DeviceCount int    `json:"deviceCount"`
}

// TurnCredentials are short-lived TURN credentials
type TurnCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
	Expires  string   `json:"expires"`
	URLs     []string `json:"urls"`
}

// ErrorPayload is the body of error
type ErrorPayload struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	RequestType string `json:"requestType,omitempty"`
}
