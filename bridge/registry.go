package bridge

import (
	"fmt"
	"sync"

	"github.com/alwitt/dashfeed/common"
	"github.com/apex/log"
)

// ========================================================================================

// SessionSender the registry facing surface of one live connection
type SessionSender interface {
	// SessionID unique transport session ID
	SessionID() string
	// SendMessage queue a serialized message for delivery. Returns false if
	// the message was dropped because the session's buffer is full.
	SendMessage(msg []byte) bool
}

// ConnectionRegistry maps authenticated user identities to live sessions and
// delivers named messages to exactly the sessions belonging to a target user
type ConnectionRegistry interface {
	RegisterSession(session SessionSender) error
	BindUser(userID string, session SessionSender) error
	ClearSession(session SessionSender)
	EmitToUser(userID string, event string, data interface{}) (bool, error)
	Broadcast(event string, data interface{}) error
	IsUserOnline(userID string) bool
	OnlineUserCount() int
	UserSessionCount(userID string) int
}

// connectionRegistryImpl implements ConnectionRegistry
type connectionRegistryImpl struct {
	common.Component
	lock sync.RWMutex
	// sessions all live sessions by session ID
	sessions map[string]SessionSender
	// userSessions authenticated sessions grouped by user ID
	userSessions map[string]map[string]SessionSender
	// sessionUser reverse mapping from session ID to bound user ID
	sessionUser map[string]string
}

// DefineConnectionRegistry create new connection registry
func DefineConnectionRegistry() (ConnectionRegistry, error) {
	logTags := log.Fields{
		"module": "bridge", "component": "connection-registry",
	}
	return &connectionRegistryImpl{
		Component:    common.Component{LogTags: logTags},
		sessions:     make(map[string]SessionSender),
		userSessions: make(map[string]map[string]SessionSender),
		sessionUser:  make(map[string]string),
	}, nil
}

// RegisterSession track a newly connected, not yet authenticated session
func (r *connectionRegistryImpl) RegisterSession(session SessionSender) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	sessionID := session.SessionID()
	if _, ok := r.sessions[sessionID]; ok {
		return fmt.Errorf("session %s already registered", sessionID)
	}
	r.sessions[sessionID] = session
	log.WithFields(r.LogTags).Infof("Client connected: %s", sessionID)
	return nil
}

// BindUser bind a session to a user identity. A session already bound to
// another user is rebound without dropping the transport.
func (r *connectionRegistryImpl) BindUser(userID string, session SessionSender) error {
	sessionID := session.SessionID()

	r.lock.Lock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.lock.Unlock()
		return fmt.Errorf("session %s is not registered", sessionID)
	}

	cameOnline := false
	wentOffline := ""
	// Clear any previous binding
	if previous, ok := r.sessionUser[sessionID]; ok && previous != userID {
		wentOffline = r.unbindLocked(sessionID, previous)
	}
	if _, ok := r.userSessions[userID]; !ok {
		r.userSessions[userID] = make(map[string]SessionSender)
		cameOnline = true
	}
	r.userSessions[userID][sessionID] = session
	r.sessionUser[sessionID] = userID
	r.lock.Unlock()

	log.WithFields(r.LogTags).Infof("User authenticated: %s (session: %s)", userID, sessionID)
	if wentOffline != "" {
		_ = r.Broadcast(ChanUserOffline, UserPresence{UserID: wentOffline})
	}
	if cameOnline {
		_ = r.Broadcast(ChanUserOnline, UserPresence{UserID: userID})
	}
	return nil
}

// unbindLocked remove one session from a user's session set. Returns the user
// ID if that user no longer has any session. Caller must hold the lock.
func (r *connectionRegistryImpl) unbindLocked(sessionID string, userID string) string {
	delete(r.sessionUser, sessionID)
	userSet, ok := r.userSessions[userID]
	if !ok {
		return ""
	}
	delete(userSet, sessionID)
	if len(userSet) == 0 {
		delete(r.userSessions, userID)
		return userID
	}
	return ""
}

// ClearSession remove a session from all tracking on disconnect
func (r *connectionRegistryImpl) ClearSession(session SessionSender) {
	sessionID := session.SessionID()

	r.lock.Lock()
	wentOffline := ""
	if userID, ok := r.sessionUser[sessionID]; ok {
		wentOffline = r.unbindLocked(sessionID, userID)
	}
	delete(r.sessions, sessionID)
	r.lock.Unlock()

	log.WithFields(r.LogTags).Infof("Client disconnected: %s", sessionID)
	if wentOffline != "" {
		_ = r.Broadcast(ChanUserOffline, UserPresence{UserID: wentOffline})
	}
}

// EmitToUser deliver a named message to every session bound to userID.
// Returns whether the user had at least one live session.
func (r *connectionRegistryImpl) EmitToUser(
	userID string, event string, data interface{},
) (bool, error) {
	serialized, err := PackEnvelope(event, data)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to serialize %s message for %s", event, userID,
		)
		return false, err
	}

	r.lock.RLock()
	targets := make([]SessionSender, 0, len(r.userSessions[userID]))
	for _, session := range r.userSessions[userID] {
		targets = append(targets, session)
	}
	r.lock.RUnlock()

	if len(targets) == 0 {
		return false, nil
	}
	for _, session := range targets {
		if !session.SendMessage(serialized) {
			log.WithFields(r.LogTags).Warnf(
				"Dropped %s message for slow session %s", event, session.SessionID(),
			)
		}
	}
	return true, nil
}

// Broadcast deliver a named message to every live session
func (r *connectionRegistryImpl) Broadcast(event string, data interface{}) error {
	serialized, err := PackEnvelope(event, data)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to serialize %s broadcast", event,
		)
		return err
	}

	r.lock.RLock()
	targets := make([]SessionSender, 0, len(r.sessions))
	for _, session := range r.sessions {
		targets = append(targets, session)
	}
	r.lock.RUnlock()

	for _, session := range targets {
		if !session.SendMessage(serialized) {
			log.WithFields(r.LogTags).Warnf(
				"Dropped %s broadcast for slow session %s", event, session.SessionID(),
			)
		}
	}
	return nil
}

// IsUserOnline whether the user has at least one authenticated session
func (r *connectionRegistryImpl) IsUserOnline(userID string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.userSessions[userID]) > 0
}

// OnlineUserCount number of users with at least one authenticated session
func (r *connectionRegistryImpl) OnlineUserCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.userSessions)
}

// UserSessionCount number of authenticated sessions held by one user
func (r *connectionRegistryImpl) UserSessionCount(userID string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.userSessions[userID])
}
