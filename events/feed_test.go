package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func defineTestFeed(
	t *testing.T, capacity int,
) (EventFeed, *sync.WaitGroup, context.CancelFunc) {
	assert := assert.New(t)

	wg := &sync.WaitGroup{}
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())

	tp, err := common.GetNewTaskProcessorInstance("ut-event-feed", 4, utCtxt)
	assert.Nil(err)

	uut, err := DefineEventFeed(tp, capacity)
	assert.Nil(err)

	assert.Nil(tp.StartEventLoop(wg))

	return uut, wg, utCtxtCancel
}

func TestEventFeedBasicRecord(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, wg, cancel := defineTestFeed(t, 100)
	defer wg.Wait()
	defer cancel()
	utCtxt := context.Background()

	// Case 0: empty feed
	{
		events, err := uut.List(10, 0, utCtxt)
		assert.Nil(err)
		assert.Empty(events)
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(0, unread)
	}

	// Case 1: record one event
	event, err := uut.Record(EventTypeUserSignup, EventPayload{
		Description: "unit test signup", UserID: "user-0", UserName: "tester",
	}, utCtxt)
	assert.Nil(err)
	assert.NotEmpty(event.ID)
	assert.False(event.Read)
	assert.Equal(EventTypeUserSignup.Title(), event.Payload.Title)

	// Case 2: unread count increased by one, List(1) returns it first
	{
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(1, unread)
		events, err := uut.List(1, 0, utCtxt)
		assert.Nil(err)
		assert.Len(events, 1)
		assert.Equal(event.ID, events[0].ID)
	}

	// Case 3: newest first ordering
	second, err := uut.Record(EventTypeProductCreated, EventPayload{
		Description: "unit test listing", ProductID: "prod-0",
	}, utCtxt)
	assert.Nil(err)
	{
		events, err := uut.List(10, 0, utCtxt)
		assert.Nil(err)
		assert.Len(events, 2)
		assert.Equal(second.ID, events[0].ID)
		assert.Equal(event.ID, events[1].ID)
		assert.GreaterOrEqual(events[0].Timestamp, events[1].Timestamp)
	}
}

func TestEventFeedCapacityEviction(t *testing.T) {
	assert := assert.New(t)

	capacity := 100
	uut, wg, cancel := defineTestFeed(t, capacity)
	defer wg.Wait()
	defer cancel()
	utCtxt := context.Background()

	total := capacity + 20
	recorded := make([]Event, 0, total)
	for itr := 0; itr < total; itr++ {
		event, err := uut.Record(EventTypeUserSignup, EventPayload{
			Description: fmt.Sprintf("signup %d", itr),
		}, utCtxt)
		assert.Nil(err)
		recorded = append(recorded, event)
	}

	// Only the newest capacity events survive, newest first
	events, err := uut.List(total, 0, utCtxt)
	assert.Nil(err)
	assert.Len(events, capacity)
	for idx, event := range events {
		assert.Equal(recorded[total-1-idx].ID, event.ID)
	}

	// The oldest events are unrecoverable
	for _, old := range recorded[:total-capacity] {
		found, err := uut.MarkRead(old.ID, utCtxt)
		assert.Nil(err)
		assert.False(found)
	}
}

func TestEventFeedReadTracking(t *testing.T) {
	assert := assert.New(t)

	uut, wg, cancel := defineTestFeed(t, 100)
	defer wg.Wait()
	defer cancel()
	utCtxt := context.Background()

	event1, err := uut.Record(EventTypeTicketCreated, EventPayload{Description: "t1"}, utCtxt)
	assert.Nil(err)
	_, err = uut.Record(EventTypeTicketCreated, EventPayload{Description: "t2"}, utCtxt)
	assert.Nil(err)

	// Case 0: mark-read of unknown ID changes nothing
	{
		found, err := uut.MarkRead("evt_does-not-exist", utCtxt)
		assert.Nil(err)
		assert.False(found)
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(2, unread)
	}

	// Case 1: mark-read of a known unread event
	{
		found, err := uut.MarkRead(event1.ID, utCtxt)
		assert.Nil(err)
		assert.True(found)
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(1, unread)
	}

	// Case 2: marking the same event again is idempotent
	{
		found, err := uut.MarkRead(event1.ID, utCtxt)
		assert.Nil(err)
		assert.True(found)
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(1, unread)
	}

	// Case 3: mark all read
	{
		assert.Nil(uut.MarkAllRead(utCtxt))
		unread, err := uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(0, unread)
		// Repeat is a no-op
		assert.Nil(uut.MarkAllRead(utCtxt))
		unread, err = uut.UnreadCount(utCtxt)
		assert.Nil(err)
		assert.Equal(0, unread)
	}
}

func TestEventFeedStats(t *testing.T) {
	assert := assert.New(t)

	uut, wg, cancel := defineTestFeed(t, 100)
	defer wg.Wait()
	defer cancel()
	utCtxt := context.Background()

	// Three purchases and one refund
	amounts := []int64{1000, 2000, 3000}
	purchases := make([]Event, 0, len(amounts))
	for idx, amount := range amounts {
		event, err := RecordPurchase(
			uut, "buyer-0", "buyer", fmt.Sprintf("prod-%d", idx), "Test Product", amount, utCtxt,
		)
		assert.Nil(err)
		purchases = append(purchases, event)
	}
	// List(2) returns the 3rd and 2nd purchases, newest first
	{
		events, err := uut.List(2, 0, utCtxt)
		assert.Nil(err)
		assert.Len(events, 2)
		assert.Equal(purchases[2].ID, events[0].ID)
		assert.Equal(purchases[1].ID, events[1].ID)
	}

	_, err := RecordRefund(uut, "buyer-1", "other", "prod-0", "Test Product", 500, utCtxt)
	assert.Nil(err)

	// Case 0: unfiltered stats
	{
		stats, err := uut.Stats(0, utCtxt)
		assert.Nil(err)
		assert.Equal(int64(6000), stats.TotalRevenue)
		assert.Equal(int64(500), stats.TotalRefunds)
		assert.Equal(int64(4), stats.TotalEvents)
		assert.Equal(int64(4), stats.UnreadCount)
		assert.Equal(int64(3), stats.Counts[EventTypePurchase])
		assert.Equal(int64(1), stats.Counts[EventTypeRefund])
		// Full enumeration present, zero counts included, counts sum to total
		assert.Len(stats.Counts, len(AllEventTypes()))
		var sum int64
		for _, count := range stats.Counts {
			sum += count
		}
		assert.Equal(stats.TotalEvents, sum)
	}

	// Case 1: since filter is strictly newer-than
	{
		cutoff := purchases[2].Timestamp
		stats, err := uut.Stats(cutoff, utCtxt)
		assert.Nil(err)
		for _, event := range purchases {
			assert.LessOrEqual(event.Timestamp, cutoff)
		}
		// Only events recorded after the last purchase can appear
		assert.LessOrEqual(stats.TotalEvents, int64(1))
		assert.Equal(int64(0), stats.TotalRevenue)
	}

	// Case 2: since in the future filters everything
	{
		stats, err := uut.Stats(time.Now().UnixMilli()+10000, utCtxt)
		assert.Nil(err)
		assert.Equal(int64(0), stats.TotalEvents)
		assert.Equal(int64(0), stats.UnreadCount)
	}
}

func TestEventFeedRecordHelpers(t *testing.T) {
	assert := assert.New(t)

	uut, wg, cancel := defineTestFeed(t, 100)
	defer wg.Wait()
	defer cancel()
	utCtxt := context.Background()

	event, err := RecordTicketCreated(uut, "user-2", "helper", "broken download", utCtxt)
	assert.Nil(err)
	assert.Equal(EventTypeTicketCreated, event.Type)
	assert.Equal("broken download", event.Payload.Metadata["ticket_title"])

	event, err = RecordWithdrawal(uut, "user-3", "seller", 25000, utCtxt)
	assert.Nil(err)
	assert.Equal(int64(25000), event.Payload.Amount)

	event, err = RecordSellerApproved(uut, "user-4", "newseller", utCtxt)
	assert.Nil(err)
	assert.Equal(EventTypeSellerApproved, event.Type)
}
