package events

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// ========================================================================================

// EventFeed append-only capacity-bounded in-memory record of business events.
//
// The feed is ephemeral by design. It is not a system of record, offers no
// delivery guarantee, and each process instance holds an independent copy.
type EventFeed interface {
	Record(eventType EventType, payload EventPayload, useContext context.Context) (Event, error)
	List(limit int, since int64, useContext context.Context) ([]Event, error)
	UnreadCount(useContext context.Context) (int, error)
	MarkRead(eventID string, useContext context.Context) (bool, error)
	MarkAllRead(useContext context.Context) error
	Stats(since int64, useContext context.Context) (EventStats, error)
}

// eventFeedImpl implements EventFeed
//
// All mutation and reads run on the injected task processor's event loop,
// serializing access to the shared event sequence.
type eventFeedImpl struct {
	common.Component
	tp       common.TaskProcessor
	capacity int
	// sequence newest-first event sequence
	sequence []Event
	// lastTimestamp last issued event timestamp, for the non-decreasing guarantee
	lastTimestamp int64
}

// DefineEventFeed create new in-memory event feed
func DefineEventFeed(tp common.TaskProcessor, capacity int) (EventFeed, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("event feed requires a positive capacity")
	}
	logTags := log.Fields{
		"module": "events", "component": "event-feed",
	}
	instance := eventFeedImpl{
		Component: common.Component{LogTags: logTags},
		tp:        tp,
		capacity:  capacity,
		sequence:  make([]Event, 0, capacity),
	}
	// Add handlers
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedRecordReq{}), instance.processRecordRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedListReq{}), instance.processListRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedUnreadCountReq{}), instance.processUnreadCountRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedMarkReadReq{}), instance.processMarkReadRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedMarkAllReadReq{}), instance.processMarkAllReadRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(feedStatsReq{}), instance.processStatsRequest,
	); err != nil {
		return nil, err
	}
	return &instance, nil
}

// ----------------------------------------------------------------------------------------

type feedRecordReq struct {
	eventType EventType
	payload   EventPayload
	resultCB  func(Event, error)
}

// Record append a new event to the feed. The oldest event is silently evicted
// if the feed is at capacity.
func (f *eventFeedImpl) Record(
	eventType EventType, payload EventPayload, useContext context.Context,
) (Event, error) {
	complete := make(chan bool, 1)
	var recorded Event
	var processError error
	handler := func(event Event, err error) {
		recorded = event
		processError = err
		complete <- true
	}

	request := feedRecordReq{
		eventType: eventType, payload: payload, resultCB: handler,
	}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Failed to submit record request for %s", eventType,
		)
		return Event{}, err
	}

	<-complete

	return recorded, processError
}

func (f *eventFeedImpl) processRecordRequest(param interface{}) error {
	request, ok := param.(feedRecordReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for record event", reflect.TypeOf(param),
		)
	}
	event, err := f.ProcessRecordRequest(request.eventType, request.payload)
	request.resultCB(event, err)
	return err
}

// ProcessRecordRequest append a new event to the feed
func (f *eventFeedImpl) ProcessRecordRequest(
	eventType EventType, payload EventPayload,
) (Event, error) {
	timestamp := time.Now().UnixMilli()
	if timestamp < f.lastTimestamp {
		timestamp = f.lastTimestamp
	}
	f.lastTimestamp = timestamp

	if payload.Title == "" {
		payload.Title = eventType.Title()
	}
	event := Event{
		ID:        fmt.Sprintf("evt_%s", uuid.New().String()),
		Type:      eventType,
		Timestamp: timestamp,
		Payload:   payload,
		Read:      false,
	}

	// Newest events sit at the head of the sequence
	f.sequence = append([]Event{event}, f.sequence...)

	// Evict the oldest events beyond capacity
	if len(f.sequence) > f.capacity {
		evicted := len(f.sequence) - f.capacity
		f.sequence = f.sequence[:f.capacity]
		log.WithFields(f.LogTags).Debugf("Evicted %d events on overflow", evicted)
	}

	log.WithFields(f.LogTags).Debugf("Recorded %s event %s", eventType, event.ID)
	return event, nil
}

// ----------------------------------------------------------------------------------------

type feedListReq struct {
	limit    int
	since    int64
	resultCB func([]Event, error)
}

// List fetch up to limit events newest first. If since > 0, only events
// strictly newer than since are considered.
func (f *eventFeedImpl) List(
	limit int, since int64, useContext context.Context,
) ([]Event, error) {
	complete := make(chan bool, 1)
	var listed []Event
	var processError error
	handler := func(events []Event, err error) {
		listed = events
		processError = err
		complete <- true
	}

	request := feedListReq{limit: limit, since: since, resultCB: handler}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Failed to submit list request")
		return nil, err
	}

	<-complete

	return listed, processError
}

func (f *eventFeedImpl) processListRequest(param interface{}) error {
	request, ok := param.(feedListReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for list events", reflect.TypeOf(param),
		)
	}
	events, err := f.ProcessListRequest(request.limit, request.since)
	request.resultCB(events, err)
	return err
}

// ProcessListRequest fetch up to limit events newest first
func (f *eventFeedImpl) ProcessListRequest(limit int, since int64) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	result := make([]Event, 0, limit)
	for _, event := range f.sequence {
		if since > 0 && event.Timestamp <= since {
			continue
		}
		result = append(result, event)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// ----------------------------------------------------------------------------------------

type feedUnreadCountReq struct {
	resultCB func(int, error)
}

// UnreadCount number of unread events currently held
func (f *eventFeedImpl) UnreadCount(useContext context.Context) (int, error) {
	complete := make(chan bool, 1)
	var count int
	var processError error
	handler := func(unread int, err error) {
		count = unread
		processError = err
		complete <- true
	}

	request := feedUnreadCountReq{resultCB: handler}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Failed to submit unread-count request")
		return 0, err
	}

	<-complete

	return count, processError
}

func (f *eventFeedImpl) processUnreadCountRequest(param interface{}) error {
	request, ok := param.(feedUnreadCountReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for unread count", reflect.TypeOf(param),
		)
	}
	count, err := f.ProcessUnreadCountRequest()
	request.resultCB(count, err)
	return err
}

// ProcessUnreadCountRequest number of unread events currently held
func (f *eventFeedImpl) ProcessUnreadCountRequest() (int, error) {
	count := 0
	for _, event := range f.sequence {
		if !event.Read {
			count++
		}
	}
	return count, nil
}

// ----------------------------------------------------------------------------------------

type feedMarkReadReq struct {
	eventID  string
	resultCB func(bool, error)
}

// MarkRead flag one event as read. Returns whether a matching event was found.
// Marking an already read event again is a no-op success.
func (f *eventFeedImpl) MarkRead(eventID string, useContext context.Context) (bool, error) {
	complete := make(chan bool, 1)
	var found bool
	var processError error
	handler := func(matched bool, err error) {
		found = matched
		processError = err
		complete <- true
	}

	request := feedMarkReadReq{eventID: eventID, resultCB: handler}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Failed to submit mark-read request for %s", eventID,
		)
		return false, err
	}

	<-complete

	return found, processError
}

func (f *eventFeedImpl) processMarkReadRequest(param interface{}) error {
	request, ok := param.(feedMarkReadReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for mark read", reflect.TypeOf(param),
		)
	}
	found, err := f.ProcessMarkReadRequest(request.eventID)
	request.resultCB(found, err)
	return err
}

// ProcessMarkReadRequest flag one event as read
func (f *eventFeedImpl) ProcessMarkReadRequest(eventID string) (bool, error) {
	for idx, event := range f.sequence {
		if event.ID == eventID {
			f.sequence[idx].Read = true
			return true, nil
		}
	}
	return false, nil
}

// ----------------------------------------------------------------------------------------

type feedMarkAllReadReq struct {
	resultCB func(error)
}

// MarkAllRead flag every event as read
func (f *eventFeedImpl) MarkAllRead(useContext context.Context) error {
	complete := make(chan bool, 1)
	var processError error
	handler := func(err error) {
		processError = err
		complete <- true
	}

	request := feedMarkAllReadReq{resultCB: handler}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Failed to submit mark-all-read request")
		return err
	}

	<-complete

	return processError
}

func (f *eventFeedImpl) processMarkAllReadRequest(param interface{}) error {
	request, ok := param.(feedMarkAllReadReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for mark all read", reflect.TypeOf(param),
		)
	}
	err := f.ProcessMarkAllReadRequest()
	request.resultCB(err)
	return err
}

// ProcessMarkAllReadRequest flag every event as read
func (f *eventFeedImpl) ProcessMarkAllReadRequest() error {
	for idx := range f.sequence {
		f.sequence[idx].Read = true
	}
	return nil
}

// ----------------------------------------------------------------------------------------

type feedStatsReq struct {
	since    int64
	resultCB func(EventStats, error)
}

// Stats aggregate statistics over the feed. If since > 0, only events
// strictly newer than since are considered.
func (f *eventFeedImpl) Stats(since int64, useContext context.Context) (EventStats, error) {
	complete := make(chan bool, 1)
	var stats EventStats
	var processError error
	handler := func(computed EventStats, err error) {
		stats = computed
		processError = err
		complete <- true
	}

	request := feedStatsReq{since: since, resultCB: handler}

	if err := f.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Failed to submit stats request")
		return EventStats{}, err
	}

	<-complete

	return stats, processError
}

func (f *eventFeedImpl) processStatsRequest(param interface{}) error {
	request, ok := param.(feedStatsReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for feed stats", reflect.TypeOf(param),
		)
	}
	stats, err := f.ProcessStatsRequest(request.since)
	request.resultCB(stats, err)
	return err
}

// ProcessStatsRequest aggregate statistics over the feed
func (f *eventFeedImpl) ProcessStatsRequest(since int64) (EventStats, error) {
	stats := EventStats{Counts: map[EventType]int64{}}
	for _, eventType := range AllEventTypes() {
		stats.Counts[eventType] = 0
	}
	for _, event := range f.sequence {
		if since > 0 && event.Timestamp <= since {
			continue
		}
		stats.Counts[event.Type]++
		stats.TotalEvents++
		switch event.Type {
		case EventTypePurchase:
			stats.TotalRevenue += event.Payload.Amount
		case EventTypeRefund:
			stats.TotalRefunds += event.Payload.Amount
		}
		if !event.Read {
			stats.UnreadCount++
		}
	}
	return stats, nil
}
