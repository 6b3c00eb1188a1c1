// Package ws implements the signaling relay: the WebSocket boundary that
// binds identities to connections, broadcasts presence and routes
// call-lifecycle and negotiation frames between exactly two parties.
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/auth"
	"github.com/chatwire/chatwire/internal/call"
	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/hub"
	"github.com/chatwire/chatwire/internal/metrics"
	"github.com/chatwire/chatwire/internal/presence"
	"github.com/chatwire/chatwire/internal/protocol"
)

// Server handles WebSocket connections and relays signaling frames.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	verifier auth.Verifier
	presence *presence.Registry
	calls    *call.Registry
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	identities map[string]domain.Identity // connection id -> verified identity
}

// NewServer creates a new signaling relay.
func NewServer(cfg *config.Config, h *hub.Hub, verifier auth.Verifier, pr *presence.Registry, cr *call.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      h,
		verifier: verifier,
		presence: pr,
		calls:    cr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Clients connect from arbitrary origins
				return true
			},
		},
		identities: make(map[string]domain.Identity),
	}

	// A session that is still Ringing when the timer fires is ended and
	// both parties are told why.
	cr.OnRingTimeout(func(sess domain.CallSession) {
		s.notifyCallEnded(sess, "", "timeout", sess.CallerID, sess.ReceiverID)
	})
	return s
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.handleDisconnect(conn)
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage validates the frame at the boundary and dispatches it.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeAddNewUser:
		s.handleAddNewUser(conn, data)
	case protocol.TypeSubscribe:
		s.handleSubscribe(conn, data)
	case protocol.TypeCall:
		s.handleCall(conn, data)
	case protocol.TypeJoinCall:
		s.handleJoinCall(conn, data)
	case protocol.TypeWebRTCSignal:
		s.handleWebRTCSignal(conn, data)
	case protocol.TypeHangup:
		s.handleHangup(conn, data)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleAddNewUser binds a verified identity to the connection, creates
// the presence record and broadcasts the updated online-user list.
func (s *Server) handleAddNewUser(conn *hub.Connection, data []byte) {
	var msg protocol.AddNewUserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid addNewUser message")
		return
	}

	id, err := s.verifier.Verify(msg.APIKey, msg.User)
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeUnauthorized, "identity verification failed")
		return
	}

	s.mu.Lock()
	s.identities[conn.ID] = id
	s.mu.Unlock()

	if prevConn, replaced := s.presence.Add(id.UserID, conn.ID, id.Profile); replaced && prevConn != conn.ID {
		// The reconnect owns the record now; the stale connection keeps
		// its socket until it disconnects on its own. A re-announce on
		// the same connection replaces its own record and must keep the
		// binding.
		s.mu.Lock()
		delete(s.identities, prevConn)
		s.mu.Unlock()
	}

	s.broadcastOnlineUsers()
	log.Printf("User %s online on connection %s", id.UserID, conn.ID)
}

// handleSubscribe joins the connection to the fan-out channel of the
// conversation with the given peer.
func (s *Server) handleSubscribe(conn *hub.Connection, data []byte) {
	var msg protocol.SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid subscribe message")
		return
	}

	id, ok := s.identity(conn)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "must send addNewUser first")
		return
	}
	if msg.PeerID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "peer_id is required")
		return
	}

	s.hub.Subscribe(conn, domain.ChannelName(id.UserID, msg.PeerID))
}

// handleCall places a call: a Ringing session is created and only the
// receiver's connection is notified.
func (s *Server) handleCall(conn *hub.Connection, data []byte) {
	var msg protocol.CallMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid call message")
		return
	}

	id, ok := s.identity(conn)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "must send addNewUser first")
		return
	}

	receiverID := msg.Participants.Receiver.UserID
	if receiverID == "" || receiverID == id.UserID {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid call receiver")
		return
	}

	callerRec, ok := s.presence.Lookup(id.UserID)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "caller has no presence record")
		return
	}
	receiverRec, ok := s.presence.Lookup(receiverID)
	if !ok {
		// No session is created for an offline callee; the caller is
		// told instead of left ringing into the void.
		s.sendError(conn, protocol.ErrorCodePeerUnavailable, "callee is not online")
		return
	}

	if _, err := s.calls.Place(id.UserID, receiverID); err != nil {
		if errors.Is(err, call.ErrCallInProgress) {
			s.sendError(conn, protocol.ErrorCodeCallInProgress, "a call for this pair is already pending")
			return
		}
		s.sendError(conn, protocol.ErrorCodeInternalError, err.Error())
		return
	}

	incoming := protocol.IncomingCallMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeIncomingCall, Ts: time.Now().UnixMilli()},
		Participants: protocol.Participants{
			Caller:   callerRec,
			Receiver: receiverRec,
		},
		IsRinging: true,
	}
	s.hub.SendJSONToConnection(receiverRec.ConnID, incoming)
	metrics.SignalsRelayedTotal.WithLabelValues("call").Inc()
}

// handleJoinCall records the callee's accept. The relay forwards nothing
// here; the callee's client starts the negotiation exchange itself.
func (s *Server) handleJoinCall(conn *hub.Connection, data []byte) {
	var msg protocol.JoinCallMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid joinCall message")
		return
	}

	id, ok := s.identity(conn)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "must send addNewUser first")
		return
	}

	callerID := msg.OngoingCall.Participants.Caller.UserID
	if callerID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "missing caller in ongoing_call")
		return
	}

	if _, err := s.calls.Join(id.UserID, callerID); err != nil {
		s.sendError(conn, protocol.ErrorCodeNoSession, "no ringing session for pair")
		return
	}
	metrics.SignalsRelayedTotal.WithLabelValues("joinCall").Inc()
}

// handleWebRTCSignal forwards a negotiation payload verbatim to the
// other participant. The relay does not interpret SDP; a missing
// counterpart drops the frame silently.
func (s *Server) handleWebRTCSignal(conn *hub.Connection, data []byte) {
	var msg protocol.WebRTCSignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid webrtcSignal message")
		return
	}

	if _, ok := s.identity(conn); !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "must send addNewUser first")
		return
	}

	participants := msg.OngoingCall.Participants
	callerID := participants.Caller.UserID
	receiverID := participants.Receiver.UserID
	if callerID == "" || receiverID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "missing participants in ongoing_call")
		return
	}

	targetID := receiverID
	if !msg.IsCaller {
		targetID = callerID
	}
	targetRec, ok := s.presence.Lookup(targetID)
	if !ok {
		log.Printf("Dropping webrtcSignal: %s has no presence record", targetID)
		return
	}

	if _, err := s.calls.RecordSignal(callerID, receiverID, msg.IsCaller); err != nil {
		log.Printf("webrtcSignal without session for pair %s/%s", callerID, receiverID)
	}

	// Forward the original frame untouched.
	s.hub.SendToConnection(targetRec.ConnID, data)
	metrics.SignalsRelayedTotal.WithLabelValues("webrtcSignal").Inc()
}

// handleHangup ends the session and notifies the counterpart when the
// initiator asked for it.
func (s *Server) handleHangup(conn *hub.Connection, data []byte) {
	var msg protocol.HangupMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid hangup message")
		return
	}

	id, ok := s.identity(conn)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeIdentityRequired, "must send addNewUser first")
		return
	}

	participants := msg.OngoingCall.Participants
	peerID := participants.Receiver.UserID
	if id.UserID == peerID {
		peerID = participants.Caller.UserID
	}
	if peerID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "missing participants in ongoing_call")
		return
	}

	sess, ok := s.calls.End(id.UserID, peerID)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeNoSession, "no session for pair")
		return
	}

	if msg.NotifyPeer {
		s.notifyCallEnded(sess, id.UserID, "hangup", peerID)
	}
	metrics.SignalsRelayedTotal.WithLabelValues("hangup").Inc()
}

// handleDisconnect removes the presence record owned by the connection,
// ends any calls the user was part of and rebroadcasts the online list.
func (s *Server) handleDisconnect(conn *hub.Connection) {
	s.mu.Lock()
	delete(s.identities, conn.ID)
	s.mu.Unlock()

	userID, removed := s.presence.RemoveConn(conn.ID)
	if !removed {
		return
	}

	for _, sess := range s.calls.EndAllFor(userID) {
		peerID := sess.ReceiverID
		if peerID == userID {
			peerID = sess.CallerID
		}
		s.notifyCallEnded(sess, userID, "disconnected", peerID)
	}

	s.broadcastOnlineUsers()
	log.Printf("User %s offline (connection %s)", userID, conn.ID)
}

// broadcastOnlineUsers pushes the current presence snapshot to every
// connection.
func (s *Server) broadcastOnlineUsers() {
	s.hub.BroadcastAll(protocol.GetUsersMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeGetUsers, Ts: time.Now().UnixMilli()},
		Users:       s.presence.Snapshot(),
	})
}

// notifyCallEnded sends a callEnded frame to each listed user that still
// has a presence record.
func (s *Server) notifyCallEnded(sess domain.CallSession, initiatorID, reason string, userIDs ...string) {
	frame := protocol.CallEndedMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeCallEnded, Ts: time.Now().UnixMilli()},
		PairID:      sess.PairID,
		InitiatorID: initiatorID,
		Reason:      reason,
	}
	for _, userID := range userIDs {
		if rec, ok := s.presence.Lookup(userID); ok {
			s.hub.SendJSONToConnection(rec.ConnID, frame)
		}
	}
}

// identity returns the verified identity bound to the connection.
func (s *Server) identity(conn *hub.Connection) (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[conn.ID]
	return id, ok
}

// sendError sends an error frame to a connection.
func (s *Server) sendError(conn *hub.Connection, code, message string) {
	s.hub.SendJSONToConnection(conn.ID, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeError, Ts: time.Now().UnixMilli()},
		Code:        code,
		Message:     message,
	})
}
