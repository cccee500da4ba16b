package bridge

import (
	"context"
	"time"

	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/dashfeed/events"
	"github.com/apex/log"
)

// ========================================================================================

// FeedNotifier couples a business action to the event feed and the bridge:
// it appends an event to the feed, then pushes the matching notification to
// the target user's live sessions. Delivery is best effort; an offline user
// simply misses the push.
type FeedNotifier interface {
	PublishNotification(
		userID string,
		eventType events.EventType,
		payload events.EventPayload,
		useContext context.Context,
	) (events.Event, error)
	PublishSale(
		sellerID string, sale SaleNotification, buyerID string, useContext context.Context,
	) (events.Event, error)
}

// feedNotifierImpl implements FeedNotifier
type feedNotifierImpl struct {
	common.Component
	feed     events.EventFeed
	registry ConnectionRegistry
}

// DefineFeedNotifier create new feed notifier
func DefineFeedNotifier(
	feed events.EventFeed, registry ConnectionRegistry,
) (FeedNotifier, error) {
	logTags := log.Fields{
		"module": "bridge", "component": "feed-notifier",
	}
	return &feedNotifierImpl{
		Component: common.Component{LogTags: logTags},
		feed:      feed,
		registry:  registry,
	}, nil
}

// notificationFromEvent derive the push payload from a recorded feed event
func notificationFromEvent(event events.Event) NotificationPayload {
	data := map[string]interface{}{}
	for key, value := range event.Payload.Metadata {
		data[key] = value
	}
	if event.Payload.ProductID != "" {
		data["productId"] = event.Payload.ProductID
		data["productTitle"] = event.Payload.ProductTitle
	}
	if event.Payload.Amount != 0 {
		data["amount"] = event.Payload.Amount
	}
	return NotificationPayload{
		ID:        event.ID,
		Type:      string(event.Type),
		Title:     event.Payload.Title,
		Message:   event.Payload.Description,
		Data:      data,
		IsRead:    event.Read,
		CreatedAt: time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339),
	}
}

// PublishNotification record an event and push it to the target user
func (n *feedNotifierImpl) PublishNotification(
	userID string,
	eventType events.EventType,
	payload events.EventPayload,
	useContext context.Context,
) (events.Event, error) {
	event, err := n.feed.Record(eventType, payload, useContext)
	if err != nil {
		log.WithError(err).WithFields(n.LogTags).Errorf(
			"Failed to record %s event", eventType,
		)
		return events.Event{}, err
	}

	delivered, err := n.registry.EmitToUser(
		userID, ChanNotificationNew, notificationFromEvent(event),
	)
	if err != nil {
		return event, err
	}
	if !delivered {
		log.WithFields(n.LogTags).Debugf(
			"User %s offline. Skipped %s push", userID, eventType,
		)
		return event, nil
	}

	// Follow with an unread count correction
	unread, err := n.feed.UnreadCount(useContext)
	if err != nil {
		return event, err
	}
	_, err = n.registry.EmitToUser(userID, ChanNotificationCount, UnreadCount{UnreadCount: unread})
	return event, err
}

// PublishSale record a purchase event and push the sale to the seller
func (n *feedNotifierImpl) PublishSale(
	sellerID string, sale SaleNotification, buyerID string, useContext context.Context,
) (events.Event, error) {
	event, err := events.RecordPurchase(
		n.feed, buyerID, sale.BuyerName, sale.ProductID, sale.ProductTitle,
		sale.Price*int64(sale.Quantity), useContext,
	)
	if err != nil {
		log.WithError(err).WithFields(n.LogTags).Error("Failed to record purchase event")
		return events.Event{}, err
	}
	if sale.ID == "" {
		sale.ID = event.ID
	}
	if sale.CreatedAt == "" {
		sale.CreatedAt = time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339)
	}

	if _, err := n.registry.EmitToUser(sellerID, ChanSaleNew, sale); err != nil {
		return event, err
	}
	return n.pushNotification(sellerID, event, useContext)
}

// pushNotification push an already recorded event to the target user
func (n *feedNotifierImpl) pushNotification(
	userID string, event events.Event, useContext context.Context,
) (events.Event, error) {
	delivered, err := n.registry.EmitToUser(
		userID, ChanNotificationNew, notificationFromEvent(event),
	)
	if err != nil || !delivered {
		return event, err
	}
	unread, err := n.feed.UnreadCount(useContext)
	if err != nil {
		return event, err
	}
	_, err = n.registry.EmitToUser(userID, ChanNotificationCount, UnreadCount{UnreadCount: unread})
	return event, err
}
