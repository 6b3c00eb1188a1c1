// Package protocol defines the WebSocket message protocol between
// clients and the relay. Every frame is a tagged union dispatched on the
// type field and validated at the boundary.
package protocol

import (
	"encoding/json"

	"github.com/chatwire/chatwire/internal/domain"
)

// Message types from client to relay
const (
	TypeAddNewUser   = "addNewUser"
	TypeSubscribe    = "subscribe"
	TypeCall         = "call"
	TypeJoinCall     = "joinCall"
	TypeWebRTCSignal = "webrtcSignal"
	TypeHangup       = "hangup"
)

// Message types from relay to client
const (
	TypeGetUsers     = "getUsers"
	TypeIncomingCall = "incomingCall"
	TypeCallEnded    = "callEnded"
	TypeChannelEvent = "channelEvent"
	TypeError        = "error"
)

// BaseMessage contains common fields for all frames.
type BaseMessage struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts,omitempty"`
}

// Participants is the caller/receiver pair of a call.
type Participants struct {
	Caller   domain.PresenceRecord `json:"caller"`
	Receiver domain.PresenceRecord `json:"receiver"`
}

// OngoingCall mirrors the call state clients carry through signaling
// frames.
type OngoingCall struct {
	Participants Participants `json:"participants"`
	IsRinging    bool         `json:"is_ringing"`
}

// AddNewUserMessage binds the connection to a user identity and joins
// the online-user list.
type AddNewUserMessage struct {
	BaseMessage
	User   domain.Profile `json:"user"`
	APIKey string         `json:"api_key,omitempty"`
}

// SubscribeMessage joins the fan-out channel of the conversation with
// the given peer.
type SubscribeMessage struct {
	BaseMessage
	PeerID string `json:"peer_id"`
}

// CallMessage places a call to the receiver.
type CallMessage struct {
	BaseMessage
	Participants Participants `json:"participants"`
}

// JoinCallMessage accepts a ringing call. The relay records the state
// transition; the callee's client starts the negotiation exchange on its
// own.
type JoinCallMessage struct {
	BaseMessage
	OngoingCall OngoingCall `json:"ongoing_call"`
}

// WebRTCSignalMessage carries a negotiation payload. The relay forwards
// SDP verbatim to the other participant without interpreting it.
type WebRTCSignalMessage struct {
	BaseMessage
	SDP         json.RawMessage `json:"sdp"`
	OngoingCall OngoingCall     `json:"ongoing_call"`
	IsCaller    bool            `json:"is_caller"`
}

// HangupMessage ends a call. NotifyPeer controls whether the counterpart
// receives a callEnded frame; internally-triggered hangups may end the
// session silently.
type HangupMessage struct {
	BaseMessage
	OngoingCall OngoingCall `json:"ongoing_call"`
	NotifyPeer  bool        `json:"notify_peer"`
}

// GetUsersMessage broadcasts the online-user list.
type GetUsersMessage struct {
	BaseMessage
	Users []domain.PresenceRecord `json:"users"`
}

// IncomingCallMessage notifies the receiver of a ringing call.
type IncomingCallMessage struct {
	BaseMessage
	Participants Participants `json:"participants"`
	IsRinging    bool         `json:"is_ringing"`
}

// CallEndedMessage notifies a participant that the session was ended.
type CallEndedMessage struct {
	BaseMessage
	PairID      string `json:"pair_id"`
	InitiatorID string `json:"initiator_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ChannelEventMessage wraps a fan-out event published to a conversation
// channel.
type ChannelEventMessage struct {
	BaseMessage
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// ErrorMessage is sent by the relay when an operation fails.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeUnauthorized     = "unauthorized"
	ErrorCodeIdentityRequired = "identity_required"
	ErrorCodePeerUnavailable  = "peer_unavailable"
	ErrorCodeCallInProgress   = "call_in_progress"
	ErrorCodeNoSession        = "no_session"
	ErrorCodeInternalError    = "internal_error"
)
