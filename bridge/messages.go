package bridge

import (
	"encoding/json"
)

// ========================================================================================
// Wire contract
//
// Messages cross the websocket as JSON text frames wrapping a named channel
// and a channel specific payload.

// Named message channels, client to server
const (
	// ChanAuth handshake binding a connection to a user identity
	ChanAuth = "auth"
	// ChanNotificationMarkRead request to mark one notification read
	ChanNotificationMarkRead = "notification:markRead"
	// ChanNotificationMarkAllRead request to mark all notifications read
	ChanNotificationMarkAllRead = "notification:markAllRead"
)

// Named message channels, server to client
const (
	// ChanNotificationNew a new notification for the bound user
	ChanNotificationNew = "notification:new"
	// ChanNotificationRead one notification was marked read
	ChanNotificationRead = "notification:read"
	// ChanNotificationReadAll all notifications were marked read
	ChanNotificationReadAll = "notification:readAll"
	// ChanNotificationCount unread notification count correction
	ChanNotificationCount = "notification:count"
	// ChanSaleNew a new sale visible to dashboard sessions
	ChanSaleNew = "sale:new"
	// ChanUserOnline a user came online
	ChanUserOnline = "user:online"
	// ChanUserOffline a user went offline
	ChanUserOffline = "user:offline"
	// ChanError server pushed error message
	ChanError = "error"
)

// ChanNotificationDelete request to delete one notification. Sent in both
// directions under the same name: intent from the client, confirmation from
// the server.
const ChanNotificationDelete = "notification:delete"

// Envelope websocket message framing
type Envelope struct {
	// Event is the message channel name
	Event string `json:"event" validate:"required"`
	// Data is the channel specific payload
	Data json.RawMessage `json:"data,omitempty"`
}

// PackEnvelope serialize a channel message for transmission
func PackEnvelope(event string, data interface{}) ([]byte, error) {
	envelope := Envelope{Event: event}
	if data != nil {
		serialized, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		envelope.Data = serialized
	}
	return json.Marshal(&envelope)
}

// ========================================================================================
// Channel payloads

// AuthRequest payload of the auth handshake
type AuthRequest struct {
	// UserID opaque user identity to bind the connection to
	UserID string `json:"userId" validate:"required"`
	// Token optional session token
	Token string `json:"token,omitempty"`
}

// NotificationRef payload referencing one notification
type NotificationRef struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

// UnreadCount payload of the unread count correction channel
type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
}

// ErrorMessage payload of the error channel
type ErrorMessage struct {
	Message string `json:"message"`
}

// UserPresence payload of the user online / offline channels
type UserPresence struct {
	UserID string `json:"userId"`
}

// NotificationPayload full notification pushed on notification:new
type NotificationPayload struct {
	ID        string                 `json:"id" validate:"required"`
	Type      string                 `json:"type" validate:"required"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt string                 `json:"createdAt"`
}

// SaleNotification sale pushed on sale:new
type SaleNotification struct {
	ID               string `json:"id" validate:"required"`
	ProductID        string `json:"productId" validate:"required"`
	ProductTitle     string `json:"productTitle"`
	ProductThumbnail string `json:"productThumbnail,omitempty"`
	BuyerName        string `json:"buyerName"`
	Price            int64  `json:"price"`
	Quantity         int    `json:"quantity"`
	CreatedAt        string `json:"createdAt"`
}
