package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func utBridgeConfig() common.BridgeConfig {
	return common.BridgeConfig{
		SendQueueLen: 16, PingInterval: 30, PongWait: 60, WriteTimeout: 5,
	}
}

// defineTestBridgeServer run a websocket endpoint wrapping bridge sessions
func defineTestBridgeServer(
	t *testing.T, utCtxt context.Context, wg *sync.WaitGroup,
) (*httptest.Server, ConnectionRegistry) {
	assert := assert.New(t)

	registry, err := DefineConnectionRegistry()
	assert.Nil(err)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session, err := DefineSession(utCtxt, conn, registry, utBridgeConfig(), wg)
		if err != nil {
			_ = conn.Close()
			return
		}
		session.Start()
	}))

	return server, registry
}

// dialTestBridge open a client connection against the test server
func dialTestBridge(t *testing.T, server *httptest.Server) *websocket.Conn {
	assert := assert.New(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Nil(err)
	return conn
}

// sendEnvelope send one channel message from the test client
func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	assert := assert.New(t)
	serialized, err := PackEnvelope(event, data)
	assert.Nil(err)
	assert.Nil(conn.WriteMessage(websocket.TextMessage, serialized))
}

// readEnvelope read one channel message on the test client
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	assert := assert.New(t)
	assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 5)))
	_, raw, err := conn.ReadMessage()
	assert.Nil(err)
	var envelope Envelope
	assert.Nil(json.Unmarshal(raw, &envelope))
	return envelope
}

// waitUserOnline poll until the registry sees the user, or time out
func waitUserOnline(t *testing.T, registry ConnectionRegistry, userID string) {
	assert := assert.New(t)
	for itr := 0; itr < 50; itr++ {
		if registry.IsUserOnline(userID) {
			return
		}
		time.Sleep(time.Millisecond * 20)
	}
	assert.True(registry.IsUserOnline(userID))
}

func TestSessionAuthHandshake(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	server, registry := defineTestBridgeServer(t, utCtxt, &wg)
	defer server.Close()

	conn := dialTestBridge(t, server)
	defer func() { _ = conn.Close() }()

	// Case 0: handshake without a user ID is rejected
	sendEnvelope(t, conn, ChanAuth, AuthRequest{})
	{
		envelope := readEnvelope(t, conn)
		assert.Equal(ChanError, envelope.Event)
		var errMsg ErrorMessage
		assert.Nil(json.Unmarshal(envelope.Data, &errMsg))
		assert.Equal("User ID is required for authentication", errMsg.Message)
	}
	assert.False(registry.IsUserOnline("user-1"))

	// Case 1: valid handshake binds the session
	sendEnvelope(t, conn, ChanAuth, AuthRequest{UserID: "user-1"})
	waitUserOnline(t, registry, "user-1")
	assert.Equal(1, registry.UserSessionCount("user-1"))

	// Case 2: re-auth with a new identity rebinds without reconnecting
	sendEnvelope(t, conn, ChanAuth, AuthRequest{UserID: "user-2"})
	waitUserOnline(t, registry, "user-2")
	assert.False(registry.IsUserOnline("user-1"))
}

func TestSessionNotificationIntents(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	server, registry := defineTestBridgeServer(t, utCtxt, &wg)
	defer server.Close()

	conn := dialTestBridge(t, server)
	defer func() { _ = conn.Close() }()

	// Case 0: intents before authentication are rejected
	sendEnvelope(t, conn, ChanNotificationMarkRead, NotificationRef{NotificationID: "n-1"})
	{
		envelope := readEnvelope(t, conn)
		assert.Equal(ChanError, envelope.Event)
		var errMsg ErrorMessage
		assert.Nil(json.Unmarshal(envelope.Data, &errMsg))
		assert.Equal("Not authenticated", errMsg.Message)
	}

	sendEnvelope(t, conn, ChanAuth, AuthRequest{UserID: "user-1"})
	waitUserOnline(t, registry, "user-1")

	// Case 1: mark-read intent comes back as a read confirmation
	sendEnvelope(t, conn, ChanNotificationMarkRead, NotificationRef{NotificationID: "n-1"})
	{
		envelope := readEnvelope(t, conn)
		// The auth triggered a user:online broadcast this session also receives
		for envelope.Event == ChanUserOnline {
			envelope = readEnvelope(t, conn)
		}
		assert.Equal(ChanNotificationRead, envelope.Event)
		var ref NotificationRef
		assert.Nil(json.Unmarshal(envelope.Data, &ref))
		assert.Equal("n-1", ref.NotificationID)
	}

	// Case 2: mark-all-read intent comes back as a read-all confirmation
	sendEnvelope(t, conn, ChanNotificationMarkAllRead, nil)
	{
		envelope := readEnvelope(t, conn)
		assert.Equal(ChanNotificationReadAll, envelope.Event)
	}

	// Case 3: delete intent comes back as a delete confirmation
	sendEnvelope(t, conn, ChanNotificationDelete, NotificationRef{NotificationID: "n-2"})
	{
		envelope := readEnvelope(t, conn)
		assert.Equal(ChanNotificationDelete, envelope.Event)
		var ref NotificationRef
		assert.Nil(json.Unmarshal(envelope.Data, &ref))
		assert.Equal("n-2", ref.NotificationID)
	}
}

func TestSessionMultiSessionFanout(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	server, registry := defineTestBridgeServer(t, utCtxt, &wg)
	defer server.Close()

	conn1 := dialTestBridge(t, server)
	defer func() { _ = conn1.Close() }()
	sendEnvelope(t, conn1, ChanAuth, AuthRequest{UserID: "user-1"})
	waitUserOnline(t, registry, "user-1")

	conn2 := dialTestBridge(t, server)
	defer func() { _ = conn2.Close() }()
	sendEnvelope(t, conn2, ChanAuth, AuthRequest{UserID: "user-1"})
	for itr := 0; itr < 50 && registry.UserSessionCount("user-1") < 2; itr++ {
		time.Sleep(time.Millisecond * 20)
	}
	assert.Equal(2, registry.UserSessionCount("user-1"))

	// An intent from one session reaches both sessions of the same user
	sendEnvelope(t, conn1, ChanNotificationMarkRead, NotificationRef{NotificationID: "n-9"})
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		envelope := readEnvelope(t, conn)
		for envelope.Event == ChanUserOnline {
			envelope = readEnvelope(t, conn)
		}
		assert.Equal(ChanNotificationRead, envelope.Event)
	}
}

func TestSessionDisconnectCleanup(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	server, registry := defineTestBridgeServer(t, utCtxt, &wg)
	defer server.Close()

	conn := dialTestBridge(t, server)
	sendEnvelope(t, conn, ChanAuth, AuthRequest{UserID: "user-1"})
	waitUserOnline(t, registry, "user-1")

	assert.Nil(conn.Close())
	for itr := 0; itr < 50 && registry.IsUserOnline("user-1"); itr++ {
		time.Sleep(time.Millisecond * 20)
	}
	assert.False(registry.IsUserOnline("user-1"))
	assert.Equal(0, registry.UserSessionCount("user-1"))
}
