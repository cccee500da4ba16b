package bridge

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// testSender captures messages handed to a session by the registry
type testSender struct {
	id       string
	received [][]byte
	full     bool
}

func newTestSender() *testSender {
	return &testSender{id: uuid.New().String(), received: make([][]byte, 0)}
}

func (s *testSender) SessionID() string {
	return s.id
}

func (s *testSender) SendMessage(msg []byte) bool {
	if s.full {
		return false
	}
	s.received = append(s.received, msg)
	return true
}

func (s *testSender) messagesOn(t *testing.T, event string) []Envelope {
	assert := assert.New(t)
	result := make([]Envelope, 0)
	for _, raw := range s.received {
		var envelope Envelope
		assert.Nil(json.Unmarshal(raw, &envelope))
		if envelope.Event == event {
			result = append(result, envelope)
		}
	}
	return result
}

func TestConnectionRegistryLifecycle(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineConnectionRegistry()
	assert.Nil(err)

	session1 := newTestSender()
	session2 := newTestSender()

	// Case 0: before any registration
	assert.False(uut.IsUserOnline("user-1"))
	assert.Equal(0, uut.OnlineUserCount())

	// Case 1: register sessions
	assert.Nil(uut.RegisterSession(session1))
	assert.Nil(uut.RegisterSession(session2))
	assert.NotNil(uut.RegisterSession(session1))
	// Unauthenticated sessions do not count as online users
	assert.Equal(0, uut.OnlineUserCount())

	// Case 2: bind both sessions to one user
	assert.Nil(uut.BindUser("user-1", session1))
	assert.Nil(uut.BindUser("user-1", session2))
	assert.True(uut.IsUserOnline("user-1"))
	assert.Equal(1, uut.OnlineUserCount())
	assert.Equal(2, uut.UserSessionCount("user-1"))

	// Case 3: binding an unregistered session fails
	assert.NotNil(uut.BindUser("user-1", newTestSender()))

	// Case 4: clear one session, user stays online
	uut.ClearSession(session1)
	assert.True(uut.IsUserOnline("user-1"))
	assert.Equal(1, uut.UserSessionCount("user-1"))

	// Case 5: clear the last session, user goes offline
	uut.ClearSession(session2)
	assert.False(uut.IsUserOnline("user-1"))
	assert.Equal(0, uut.OnlineUserCount())
}

func TestConnectionRegistryUserScopedDelivery(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineConnectionRegistry()
	assert.Nil(err)

	user1Session := newTestSender()
	user2Session := newTestSender()
	unauthedSession := newTestSender()
	assert.Nil(uut.RegisterSession(user1Session))
	assert.Nil(uut.RegisterSession(user2Session))
	assert.Nil(uut.RegisterSession(unauthedSession))
	assert.Nil(uut.BindUser("user-1", user1Session))
	assert.Nil(uut.BindUser("user-2", user2Session))

	// Case 0: user scoped delivery reaches only that user's sessions
	delivered, err := uut.EmitToUser(
		"user-1", ChanNotificationRead, NotificationRef{NotificationID: "n-1"},
	)
	assert.Nil(err)
	assert.True(delivered)
	assert.Len(user1Session.messagesOn(t, ChanNotificationRead), 1)
	assert.Empty(user2Session.messagesOn(t, ChanNotificationRead))
	assert.Empty(unauthedSession.messagesOn(t, ChanNotificationRead))

	// Case 1: emit to an offline user reports no delivery
	delivered, err = uut.EmitToUser("user-3", ChanNotificationReadAll, nil)
	assert.Nil(err)
	assert.False(delivered)

	// Case 2: broadcast reaches all sessions including unauthenticated ones
	assert.Nil(uut.Broadcast(ChanSaleNew, SaleNotification{
		ID: "sale-1", ProductID: "prod-1", ProductTitle: "Test", BuyerName: "buyer",
		Price: 1000, Quantity: 1,
	}))
	assert.Len(user1Session.messagesOn(t, ChanSaleNew), 1)
	assert.Len(user2Session.messagesOn(t, ChanSaleNew), 1)
	assert.Len(unauthedSession.messagesOn(t, ChanSaleNew), 1)

	// Case 3: a full session drops the message without failing the emit
	user1Session.full = true
	delivered, err = uut.EmitToUser(
		"user-1", ChanNotificationRead, NotificationRef{NotificationID: "n-2"},
	)
	assert.Nil(err)
	assert.True(delivered)
	assert.Len(user1Session.messagesOn(t, ChanNotificationRead), 1)
}

func TestConnectionRegistryRebinding(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineConnectionRegistry()
	assert.Nil(err)

	session := newTestSender()
	assert.Nil(uut.RegisterSession(session))
	assert.Nil(uut.BindUser("user-1", session))
	assert.True(uut.IsUserOnline("user-1"))

	// Rebinding moves the session between users without re-registration
	assert.Nil(uut.BindUser("user-2", session))
	assert.False(uut.IsUserOnline("user-1"))
	assert.True(uut.IsUserOnline("user-2"))
	assert.Equal(1, uut.OnlineUserCount())
}

func TestConnectionRegistryPresenceBroadcasts(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineConnectionRegistry()
	assert.Nil(err)

	watcher := newTestSender()
	session := newTestSender()
	assert.Nil(uut.RegisterSession(watcher))
	assert.Nil(uut.RegisterSession(session))

	assert.Nil(uut.BindUser("user-1", session))
	online := watcher.messagesOn(t, ChanUserOnline)
	assert.Len(online, 1)
	var presence UserPresence
	assert.Nil(json.Unmarshal(online[0].Data, &presence))
	assert.Equal("user-1", presence.UserID)

	uut.ClearSession(session)
	offline := watcher.messagesOn(t, ChanUserOffline)
	assert.Len(offline, 1)
	assert.Nil(json.Unmarshal(offline[0].Data, &presence))
	assert.Equal("user-1", presence.UserID)
}
