package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/dashfeed/events"
	"github.com/stretchr/testify/assert"
)

func TestFeedNotifierPublish(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	tp, err := common.GetNewTaskProcessorInstance("ut-notifier", 4, utCtxt)
	assert.Nil(err)
	feed, err := events.DefineEventFeed(tp, 100)
	assert.Nil(err)
	assert.Nil(tp.StartEventLoop(&wg))

	registry, err := DefineConnectionRegistry()
	assert.Nil(err)

	uut, err := DefineFeedNotifier(feed, registry)
	assert.Nil(err)

	seller := newTestSender()
	assert.Nil(registry.RegisterSession(seller))
	assert.Nil(registry.BindUser("seller-1", seller))

	// Case 0: a sale reaches the seller's sessions and lands in the feed
	event, err := uut.PublishSale("seller-1", SaleNotification{
		ProductID: "prod-1", ProductTitle: "Icon Pack", BuyerName: "buyer",
		Price: 1500, Quantity: 2,
	}, "buyer-1", utCtxt)
	assert.Nil(err)
	assert.Equal(events.EventTypePurchase, event.Type)
	assert.Equal(int64(3000), event.Payload.Amount)

	sales := seller.messagesOn(t, ChanSaleNew)
	assert.Len(sales, 1)
	var sale SaleNotification
	assert.Nil(json.Unmarshal(sales[0].Data, &sale))
	assert.Equal(event.ID, sale.ID)
	assert.Equal("prod-1", sale.ProductID)

	pushed := seller.messagesOn(t, ChanNotificationNew)
	assert.Len(pushed, 1)
	var notification NotificationPayload
	assert.Nil(json.Unmarshal(pushed[0].Data, &notification))
	assert.Equal(event.ID, notification.ID)
	assert.False(notification.IsRead)

	counts := seller.messagesOn(t, ChanNotificationCount)
	assert.Len(counts, 1)
	var unread UnreadCount
	assert.Nil(json.Unmarshal(counts[0].Data, &unread))
	assert.Equal(1, unread.UnreadCount)

	// The feed recorded the purchase
	stats, err := feed.Stats(0, utCtxt)
	assert.Nil(err)
	assert.Equal(int64(3000), stats.TotalRevenue)

	// Case 1: publishing to an offline user still records the event
	event, err = uut.PublishNotification("user-9", events.EventTypeTicketCreated, events.EventPayload{
		Description: "ticket opened", UserID: "user-9",
	}, utCtxt)
	assert.Nil(err)
	assert.NotEmpty(event.ID)
	unreadCount, err := feed.UnreadCount(utCtxt)
	assert.Nil(err)
	assert.Equal(2, unreadCount)
}
