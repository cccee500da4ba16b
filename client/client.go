package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// ========================================================================================

// PushHandler callback invoked with the payload of a server pushed message
type PushHandler func(data json.RawMessage)

// ConnectParams connection parameters for the bridge client
type ConnectParams struct {
	// ServerURL websocket URL of the bridge endpoint
	ServerURL string `validate:"required,url"`
	// MaxReconnectAttempts max reconnect attempts after a transport failure
	// before the client gives up
	MaxReconnectAttempts int `validate:"gte=0"`
	// ReconnectDelay fixed delay between reconnect attempts
	ReconnectDelay time.Duration
	// HandshakeTimeout max duration for the transport level handshake
	HandshakeTimeout time.Duration
}

// applyDefaults fill in unset connection parameters
func (p *ConnectParams) applyDefaults() {
	if p.MaxReconnectAttempts == 0 {
		p.MaxReconnectAttempts = 5
	}
	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = time.Second * 3
	}
	if p.HandshakeTimeout == 0 {
		p.HandshakeTimeout = time.Second * 10
	}
}

// BridgeClient manages one real-time connection against the bridge: transport
// lifecycle, identity handshake, typed send / receive, and bounded recovery
// from transient disconnects.
type BridgeClient interface {
	// Connect establish the transport. Idempotent; a no-op when already
	// connected. Connection setup and retries run in the background.
	Connect() error
	// Disconnect tear down the transport. Idempotent and always safe to call.
	// The client returns to disconnected; Connect may be called again to
	// establish a new transport.
	Disconnect()
	// SetIdentity bind the client to a user identity. When the transport is
	// live the auth handshake is re-sent immediately without reconnecting.
	SetIdentity(userID string)
	// Emit send a message on a named channel. Fails soft: when not connected
	// the message is dropped with a logged warning.
	Emit(event string, data interface{})
	// On register a handler for a server pushed channel
	On(event string, handler PushHandler)
	// IsConnected whether the transport is currently live
	IsConnected() bool
	// IsAuthenticated whether an auth handshake was sent on the live transport
	IsAuthenticated() bool
	// LastError the most recent connection or server pushed error message.
	// Last error wins; empty when no error has occurred.
	LastError() string
}

// bridgeClientImpl implements BridgeClient
type bridgeClientImpl struct {
	common.Component
	params           ConnectParams
	rootContext      context.Context
	operationContext context.Context
	contextCancel    context.CancelFunc
	wg               *sync.WaitGroup

	lock          sync.Mutex
	conn          *websocket.Conn
	connected     bool
	authenticated bool
	connecting    bool
	closed        bool
	userID        string
	lastError     string
	handlers      map[string]PushHandler
	retryTimer    common.IntervalTimer
}

// DefineBridgeClient create new bridge client
func DefineBridgeClient(
	params ConnectParams, rootCtxt context.Context, wg *sync.WaitGroup,
) (BridgeClient, error) {
	params.applyDefaults()
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module": "client", "component": "bridge-client", "server": params.ServerURL,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &bridgeClientImpl{
		Component:        common.Component{LogTags: logTags},
		params:           params,
		rootContext:      rootCtxt,
		operationContext: ctxt,
		contextCancel:    cancel,
		wg:               wg,
		handlers:         make(map[string]PushHandler),
	}, nil
}

// ----------------------------------------------------------------------------------------

// Connect establish the transport
func (c *bridgeClientImpl) Connect() error {
	c.lock.Lock()
	if c.connected || c.connecting {
		c.lock.Unlock()
		return nil
	}
	if c.closed {
		// An explicit disconnect is not terminal. A new connect resumes the
		// lifecycle with a fresh operation context off the root context.
		if err := c.rootContext.Err(); err != nil {
			c.lock.Unlock()
			return fmt.Errorf("bridge client already closed: %s", err.Error())
		}
		ctxt, cancel := context.WithCancel(c.rootContext)
		c.operationContext = ctxt
		c.contextCancel = cancel
		c.closed = false
	}
	c.connecting = true
	c.lock.Unlock()

	if c.attemptConnect() {
		return nil
	}
	return c.scheduleRetries()
}

// attemptConnect perform a single transport connection attempt
func (c *bridgeClientImpl) attemptConnect() bool {
	dialer := websocket.Dialer{HandshakeTimeout: c.params.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.params.ServerURL, nil)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Debug("Transport connect failed")
		c.lock.Lock()
		c.lastError = fmt.Sprintf("Connection error: %s", err.Error())
		c.lock.Unlock()
		return false
	}

	c.lock.Lock()
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.lastError = ""
	userID := c.userID
	c.lock.Unlock()

	log.WithFields(c.LogTags).Info("Transport connected")

	// Bind identity immediately when already known
	if userID != "" {
		c.sendAuth(userID)
	}

	c.wg.Add(1)
	go c.readPump(conn)
	return true
}

// scheduleRetries run bounded fixed delay reconnect attempts in the background
func (c *bridgeClientImpl) scheduleRetries() error {
	timer, err := common.GetIntervalTimerInstance(
		"bridge-client-reconnect", c.operationContext, c.wg,
	)
	if err != nil {
		return err
	}

	c.lock.Lock()
	c.retryTimer = timer
	c.lock.Unlock()

	attempts := 0
	return timer.Start(c.params.ReconnectDelay, func() error {
		c.lock.Lock()
		if c.closed || c.connected {
			c.lock.Unlock()
			return timer.Stop()
		}
		c.lock.Unlock()

		attempts++
		if c.attemptConnect() {
			return timer.Stop()
		}
		if attempts >= c.params.MaxReconnectAttempts {
			log.WithFields(c.LogTags).Warnf(
				"Giving up after %d reconnect attempts", attempts,
			)
			c.lock.Lock()
			c.connecting = false
			c.lock.Unlock()
			return timer.Stop()
		}
		return nil
	}, false)
}

// Disconnect tear down the transport
func (c *bridgeClientImpl) Disconnect() {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	c.authenticated = false
	c.connecting = false
	conn := c.conn
	c.conn = nil
	timer := c.retryTimer
	c.retryTimer = nil
	cancel := c.contextCancel
	c.lock.Unlock()

	cancel()
	if timer != nil {
		_ = timer.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	log.WithFields(c.LogTags).Info("Transport disconnected")
}

// SetIdentity bind the client to a user identity
func (c *bridgeClientImpl) SetIdentity(userID string) {
	c.lock.Lock()
	changed := c.userID != userID
	c.userID = userID
	live := c.connected
	c.lock.Unlock()

	if live && changed && userID != "" {
		c.sendAuth(userID)
	}
}

// sendAuth emit the auth handshake. Authentication is optimistic; the client
// does not wait for a server acknowledgment.
func (c *bridgeClientImpl) sendAuth(userID string) {
	c.writeEnvelope(bridge.ChanAuth, bridge.AuthRequest{UserID: userID})
	c.lock.Lock()
	c.authenticated = true
	c.lock.Unlock()
	log.WithFields(c.LogTags).Debugf("Sent auth handshake for %s", userID)
}

// Emit send a message on a named channel
func (c *bridgeClientImpl) Emit(event string, data interface{}) {
	c.lock.Lock()
	live := c.connected
	c.lock.Unlock()
	if !live {
		log.WithFields(c.LogTags).Warnf("Cannot emit %s - not connected", event)
		return
	}
	c.writeEnvelope(event, data)
}

// writeEnvelope serialize and send one wire message
func (c *bridgeClientImpl) writeEnvelope(event string, data interface{}) {
	serialized, err := bridge.PackEnvelope(event, data)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to serialize %s message", event)
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		log.WithFields(c.LogTags).Warnf("Cannot emit %s - not connected", event)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, serialized); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to send %s message", event)
	}
}

// On register a handler for a server pushed channel
func (c *bridgeClientImpl) On(event string, handler PushHandler) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handlers[event] = handler
}

// IsConnected whether the transport is currently live
func (c *bridgeClientImpl) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

// IsAuthenticated whether an auth handshake was sent on the live transport
func (c *bridgeClientImpl) IsAuthenticated() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.authenticated
}

// LastError the most recent connection or server pushed error message
func (c *bridgeClientImpl) LastError() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastError
}

// ----------------------------------------------------------------------------------------

// readPump consume server pushed messages until the transport fails
func (c *bridgeClientImpl) readPump(conn *websocket.Conn) {
	defer c.wg.Done()
	defer log.WithFields(c.LogTags).Debug("Read pump exiting")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onTransportLost(conn, err)
			return
		}
		c.dispatch(raw)
	}
}

// dispatch route one server pushed message to its registered handler
func (c *bridgeClientImpl) dispatch(raw []byte) {
	var envelope bridge.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithError(err).WithFields(c.LogTags).Warn("Discarding malformed push")
		return
	}

	// Server pushed errors overwrite the error field. Last error wins.
	if envelope.Event == bridge.ChanError {
		var errMsg bridge.ErrorMessage
		if err := json.Unmarshal(envelope.Data, &errMsg); err == nil {
			c.lock.Lock()
			c.lastError = errMsg.Message
			c.lock.Unlock()
			log.WithFields(c.LogTags).Warnf("Server error: %s", errMsg.Message)
		}
	}

	c.lock.Lock()
	handler, ok := c.handlers[envelope.Event]
	c.lock.Unlock()
	if !ok {
		log.WithFields(c.LogTags).Debugf("No handler for channel %s", envelope.Event)
		return
	}
	handler(envelope.Data)
}

// onTransportLost handle a transport level failure of the live connection
func (c *bridgeClientImpl) onTransportLost(conn *websocket.Conn, cause error) {
	c.lock.Lock()
	// A stale pump of an already replaced connection changes nothing
	if c.conn != conn {
		c.lock.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.authenticated = false
	closed := c.closed
	if !closed {
		c.lastError = fmt.Sprintf("Connection lost: %s", cause.Error())
		c.connecting = true
	}
	c.lock.Unlock()

	_ = conn.Close()
	if closed {
		return
	}
	log.WithError(cause).WithFields(c.LogTags).Warn("Transport lost. Scheduling reconnect")
	if err := c.scheduleRetries(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Failed to schedule reconnects")
	}
}
