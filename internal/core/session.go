package core

import (
	"time"

	"chatrelay/internal/domain"

	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Session binds one authenticated connection to its user. Ephemeral:
// created when a transport connection authenticates, gone when it closes.
type Session struct {
	ID          SessionID
	UserID      domain.UserID
	ConnectedAt time.Time
	Conn        SignalConnection
}

func NewSession(uid domain.UserID, conn SignalConnection) *Session {
	return &Session{
		ID:          NewSessionID(),
		UserID:      uid,
		ConnectedAt: time.Now(),
		Conn:        conn,
	}
}
