package session

import (
	"sync"
	"sync/atomic"

	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"
)

const noInteraction int64 = -1

// SentMessage is the platform handle of the last block shown to a chat.
// It is immutable and replaced wholesale.
type SentMessage struct {
	Block     dialog.Block
	MessageID string
	SentAt    int64
}

// Session is the relay state of one chat.
type Session struct {
	chatID   string
	identity backendtypes.Identity

	active          atomic.Bool
	lastInteraction atomic.Int64

	previousMu sync.RWMutex
	previous   *SentMessage

	turn sync.Mutex
}

func newSession(chatID string, active bool, lastInteraction *int64) *Session {
	s := &Session{
		chatID:   chatID,
		identity: backendtypes.NewIdentity(chatID),
	}
	s.active.Store(active)
	s.lastInteraction.Store(noInteraction)
	if lastInteraction != nil {
		s.lastInteraction.Store(*lastInteraction)
	}
	return s
}

func (s *Session) ChatID() string { return s.chatID }

// Identity returns the backend session and user ids of the chat.
func (s *Session) Identity() backendtypes.Identity { return s.identity }

func (s *Session) IsActive() bool { return s.active.Load() }

// SetActive switches the session on or off. It is the only mutation allowed
// without holding a guard.
func (s *Session) SetActive(active bool) { s.active.Store(active) }

// LastInteraction returns the time of the last backend interaction in unix
// seconds. ok is false when the conversation has not started or has ended.
func (s *Session) LastInteraction() (int64, bool) {
	value := s.lastInteraction.Load()
	if value == noInteraction {
		return 0, false
	}
	return value, true
}

// PreviousMessage returns a snapshot of the last sent message.
func (s *Session) PreviousMessage() (SentMessage, bool) {
	s.previousMu.RLock()
	defer s.previousMu.RUnlock()
	if s.previous == nil {
		return SentMessage{}, false
	}
	return *s.previous, true
}

// TryLock claims the session for one turn without blocking.
func (s *Session) TryLock() (*Guard, error) {
	if !s.turn.TryLock() {
		return nil, fault.Newf(fault.CategorySessionLocked, "chat %s is handling another update", s.chatID)
	}
	return &Guard{session: s}, nil
}

// validAt reports whether the session is still inside its ttl at now.
// A zero ttl never expires a session that has an interaction time.
func (s *Session) validAt(now int64, ttl int64) bool {
	last, ok := s.LastInteraction()
	if !ok {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return now-last <= ttl
}
