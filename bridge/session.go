package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ========================================================================================

// Session one live websocket transport session.
//
// A session starts unauthenticated and receives no user-scoped messages until
// a valid auth handshake binds it to a user identity. A later auth handshake
// rebinds the session without dropping the transport.
type Session struct {
	common.Component
	id               string
	conn             *websocket.Conn
	registry         ConnectionRegistry
	config           common.BridgeConfig
	validate         *validator.Validate
	sendQ            chan []byte
	operationContext context.Context
	contextCancel    context.CancelFunc
	wg               *sync.WaitGroup
	closeOnce        sync.Once
	// userID bound user identity. Only touched on the read pump.
	userID string
}

// DefineSession create new bridge session around an upgraded websocket
// connection, and track it in the registry
func DefineSession(
	rootCtxt context.Context,
	conn *websocket.Conn,
	registry ConnectionRegistry,
	config common.BridgeConfig,
	wg *sync.WaitGroup,
) (*Session, error) {
	sessionID := uuid.New().String()
	logTags := log.Fields{
		"module": "bridge", "component": "session", "session": sessionID,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	instance := &Session{
		Component:        common.Component{LogTags: logTags},
		id:               sessionID,
		conn:             conn,
		registry:         registry,
		config:           config,
		validate:         validator.New(),
		sendQ:            make(chan []byte, config.SendQueueLen),
		operationContext: ctxt,
		contextCancel:    cancel,
		wg:               wg,
	}
	if err := registry.RegisterSession(instance); err != nil {
		cancel()
		return nil, err
	}
	return instance, nil
}

// SessionID unique transport session ID
func (s *Session) SessionID() string {
	return s.id
}

// SendMessage queue a serialized message for delivery. Non-blocking; returns
// false and drops the message if the session's buffer is full or closing.
func (s *Session) SendMessage(msg []byte) bool {
	select {
	case s.sendQ <- msg:
		return true
	case <-s.operationContext.Done():
		return false
	default:
		return false
	}
}

// Start launch the session's read and write pumps
func (s *Session) Start() {
	s.wg.Add(2)
	go s.readPump()
	go s.writePump()
}

// Close tear down the session
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.registry.ClearSession(s)
		s.contextCancel()
		_ = s.conn.Close()
	})
}

// ----------------------------------------------------------------------------------------

func (s *Session) pongWait() time.Duration {
	return time.Second * time.Duration(s.config.PongWait)
}

func (s *Session) writeTimeout() time.Duration {
	return time.Second * time.Duration(s.config.WriteTimeout)
}

// readPump consume inbound messages until the transport fails or closes
func (s *Session) readPump() {
	defer s.wg.Done()
	defer s.Close()
	defer log.WithFields(s.LogTags).Debug("Read pump exiting")

	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait()))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait()))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
			) {
				log.WithError(err).WithFields(s.LogTags).Debug("Transport read failure")
			}
			return
		}
		s.handleMessage(raw)
	}
}

// handleMessage process one inbound wire message
func (s *Session) handleMessage(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithError(err).WithFields(s.LogTags).Warn("Discarding malformed message")
		s.pushError("Unable to parse message")
		return
	}
	if err := s.validate.Struct(&envelope); err != nil {
		log.WithError(err).WithFields(s.LogTags).Warn("Discarding invalid message")
		s.pushError("Unable to parse message")
		return
	}

	switch envelope.Event {
	case ChanAuth:
		s.handleAuth(envelope.Data)
	case ChanNotificationMarkRead:
		s.handleNotificationIntent(envelope.Data, ChanNotificationRead)
	case ChanNotificationMarkAllRead:
		s.handleMarkAllRead()
	case ChanNotificationDelete:
		s.handleNotificationIntent(envelope.Data, ChanNotificationDelete)
	default:
		log.WithFields(s.LogTags).Warnf("Ignoring unknown channel %s", envelope.Event)
	}
}

// handleAuth bind or rebind the session to a user identity
func (s *Session) handleAuth(data json.RawMessage) {
	var request AuthRequest
	if data != nil {
		if err := json.Unmarshal(data, &request); err != nil {
			log.WithError(err).WithFields(s.LogTags).Warn("Malformed auth handshake")
			s.pushError("User ID is required for authentication")
			return
		}
	}
	if err := s.validate.Struct(&request); err != nil {
		log.WithError(err).WithFields(s.LogTags).Warn("Auth handshake missing user ID")
		s.pushError("User ID is required for authentication")
		return
	}

	if err := s.registry.BindUser(request.UserID, s); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to bind session to user %s", request.UserID,
		)
		s.pushError("Authentication failed")
		return
	}
	s.userID = request.UserID
}

// handleNotificationIntent re-broadcast a per-notification intent as the
// corresponding confirmation channel to every session of the bound user
func (s *Session) handleNotificationIntent(data json.RawMessage, confirmChannel string) {
	if s.userID == "" {
		s.pushError("Not authenticated")
		return
	}
	var ref NotificationRef
	if data != nil {
		if err := json.Unmarshal(data, &ref); err != nil {
			log.WithError(err).WithFields(s.LogTags).Warn("Malformed notification reference")
			s.pushError("Unable to parse message")
			return
		}
	}
	if err := s.validate.Struct(&ref); err != nil {
		log.WithError(err).WithFields(s.LogTags).Warn("Notification reference missing ID")
		s.pushError("Unable to parse message")
		return
	}
	if _, err := s.registry.EmitToUser(s.userID, confirmChannel, ref); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to emit %s for user %s", confirmChannel, s.userID,
		)
	}
}

// handleMarkAllRead re-broadcast a mark-all-read intent as confirmation
func (s *Session) handleMarkAllRead() {
	if s.userID == "" {
		s.pushError("Not authenticated")
		return
	}
	if _, err := s.registry.EmitToUser(s.userID, ChanNotificationReadAll, nil); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to emit %s for user %s", ChanNotificationReadAll, s.userID,
		)
	}
}

// pushError queue an error message for this session
func (s *Session) pushError(message string) {
	serialized, err := PackEnvelope(ChanError, ErrorMessage{Message: message})
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Failed to serialize error message")
		return
	}
	s.SendMessage(serialized)
}

// ----------------------------------------------------------------------------------------

// writePump single writer for the session transport
func (s *Session) writePump() {
	defer s.wg.Done()
	defer log.WithFields(s.LogTags).Debug("Write pump exiting")

	pinger := time.NewTicker(time.Second * time.Duration(s.config.PingInterval))
	defer pinger.Stop()

	for {
		select {
		case <-s.operationContext.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.sendQ:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Transport write failure")
				s.Close()
				return
			}
		case <-pinger.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Liveness ping failure")
				s.Close()
				return
			}
		}
	}
}
