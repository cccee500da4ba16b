package client

import (
	"encoding/json"
	"sync"

	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
)

// ========================================================================================

// NotificationWatcherCallbacks optional application callbacks fired as server
// pushed notification traffic arrives. Nil callbacks are skipped.
type NotificationWatcherCallbacks struct {
	// OnNewNotification called when a new notification arrives
	OnNewNotification func(notification bridge.NotificationPayload)
	// OnNotificationRead called when one notification is marked read
	OnNotificationRead func(notificationID string)
	// OnAllNotificationsRead called when all notifications are marked read
	OnAllNotificationsRead func()
	// OnNotificationDeleted called when a notification is removed
	OnNotificationDeleted func(notificationID string)
	// OnUnreadCountChange called whenever the unread counter changes
	OnUnreadCountChange func(count int)
}

// NotificationWatcher mirrors the server side notification state of one user
// over the bridge connection. Local state changes only in response to server
// pushed messages; user intents are sent fire-and-forget and take effect when
// the matching confirmation arrives.
type NotificationWatcher interface {
	// Notifications snapshot of the known notifications, newest first
	Notifications() []bridge.NotificationPayload
	// UnreadCount current unread counter
	UnreadCount() int
	// MarkAsRead request one notification be marked read
	MarkAsRead(notificationID string)
	// MarkAllAsRead request all notifications be marked read
	MarkAllAsRead()
	// DeleteNotification request a notification be removed
	DeleteNotification(notificationID string)
}

// notificationWatcherImpl implements NotificationWatcher
type notificationWatcherImpl struct {
	common.Component
	client        BridgeClient
	callbacks     NotificationWatcherCallbacks
	lock          sync.Mutex
	notifications []bridge.NotificationPayload
	unread        int
}

// DefineNotificationWatcher create new notification watcher against a bridge
// client. The watcher registers handlers on the notification channels.
func DefineNotificationWatcher(
	client BridgeClient, callbacks NotificationWatcherCallbacks,
) NotificationWatcher {
	logTags := log.Fields{"module": "client", "component": "notification-watcher"}
	instance := &notificationWatcherImpl{
		Component:     common.Component{LogTags: logTags},
		client:        client,
		callbacks:     callbacks,
		notifications: make([]bridge.NotificationPayload, 0),
	}
	client.On(bridge.ChanNotificationNew, instance.handleNew)
	client.On(bridge.ChanNotificationRead, instance.handleRead)
	client.On(bridge.ChanNotificationReadAll, instance.handleReadAll)
	client.On(bridge.ChanNotificationDelete, instance.handleDelete)
	client.On(bridge.ChanNotificationCount, instance.handleCount)
	return instance
}

// ----------------------------------------------------------------------------------------

// Notifications snapshot of the known notifications, newest first
func (w *notificationWatcherImpl) Notifications() []bridge.NotificationPayload {
	w.lock.Lock()
	defer w.lock.Unlock()
	snapshot := make([]bridge.NotificationPayload, len(w.notifications))
	copy(snapshot, w.notifications)
	return snapshot
}

// UnreadCount current unread counter
func (w *notificationWatcherImpl) UnreadCount() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.unread
}

// MarkAsRead request one notification be marked read
func (w *notificationWatcherImpl) MarkAsRead(notificationID string) {
	w.client.Emit(
		bridge.ChanNotificationMarkRead, bridge.NotificationRef{NotificationID: notificationID},
	)
}

// MarkAllAsRead request all notifications be marked read
func (w *notificationWatcherImpl) MarkAllAsRead() {
	w.client.Emit(bridge.ChanNotificationMarkAllRead, struct{}{})
}

// DeleteNotification request a notification be removed
func (w *notificationWatcherImpl) DeleteNotification(notificationID string) {
	w.client.Emit(
		bridge.ChanNotificationDelete, bridge.NotificationRef{NotificationID: notificationID},
	)
}

// ----------------------------------------------------------------------------------------

func (w *notificationWatcherImpl) handleNew(data json.RawMessage) {
	var notification bridge.NotificationPayload
	if err := json.Unmarshal(data, &notification); err != nil {
		log.WithError(err).WithFields(w.LogTags).Warn("Discarding malformed notification")
		return
	}

	w.lock.Lock()
	w.notifications = append(
		[]bridge.NotificationPayload{notification}, w.notifications...,
	)
	if !notification.IsRead {
		w.unread++
	}
	unread := w.unread
	w.lock.Unlock()

	if w.callbacks.OnNewNotification != nil {
		w.callbacks.OnNewNotification(notification)
	}
	if w.callbacks.OnUnreadCountChange != nil {
		w.callbacks.OnUnreadCountChange(unread)
	}
}

func (w *notificationWatcherImpl) handleRead(data json.RawMessage) {
	var ref bridge.NotificationRef
	if err := json.Unmarshal(data, &ref); err != nil {
		log.WithError(err).WithFields(w.LogTags).Warn("Discarding malformed read confirmation")
		return
	}

	w.lock.Lock()
	for idx, notification := range w.notifications {
		if notification.ID == ref.NotificationID && !notification.IsRead {
			w.notifications[idx].IsRead = true
			if w.unread > 0 {
				w.unread--
			}
			break
		}
	}
	unread := w.unread
	w.lock.Unlock()

	if w.callbacks.OnNotificationRead != nil {
		w.callbacks.OnNotificationRead(ref.NotificationID)
	}
	if w.callbacks.OnUnreadCountChange != nil {
		w.callbacks.OnUnreadCountChange(unread)
	}
}

func (w *notificationWatcherImpl) handleReadAll(data json.RawMessage) {
	w.lock.Lock()
	for idx := range w.notifications {
		w.notifications[idx].IsRead = true
	}
	w.unread = 0
	w.lock.Unlock()

	if w.callbacks.OnAllNotificationsRead != nil {
		w.callbacks.OnAllNotificationsRead()
	}
	if w.callbacks.OnUnreadCountChange != nil {
		w.callbacks.OnUnreadCountChange(0)
	}
}

func (w *notificationWatcherImpl) handleDelete(data json.RawMessage) {
	var ref bridge.NotificationRef
	if err := json.Unmarshal(data, &ref); err != nil {
		log.WithError(err).WithFields(w.LogTags).Warn("Discarding malformed delete confirmation")
		return
	}

	w.lock.Lock()
	for idx, notification := range w.notifications {
		if notification.ID == ref.NotificationID {
			if !notification.IsRead && w.unread > 0 {
				w.unread--
			}
			w.notifications = append(w.notifications[:idx], w.notifications[idx+1:]...)
			break
		}
	}
	unread := w.unread
	w.lock.Unlock()

	if w.callbacks.OnNotificationDeleted != nil {
		w.callbacks.OnNotificationDeleted(ref.NotificationID)
	}
	if w.callbacks.OnUnreadCountChange != nil {
		w.callbacks.OnUnreadCountChange(unread)
	}
}

func (w *notificationWatcherImpl) handleCount(data json.RawMessage) {
	var count bridge.UnreadCount
	if err := json.Unmarshal(data, &count); err != nil {
		log.WithError(err).WithFields(w.LogTags).Warn("Discarding malformed unread count")
		return
	}

	w.lock.Lock()
	w.unread = count.UnreadCount
	unread := w.unread
	w.lock.Unlock()

	if w.callbacks.OnUnreadCountChange != nil {
		w.callbacks.OnUnreadCountChange(unread)
	}
}
