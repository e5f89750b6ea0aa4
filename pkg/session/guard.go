package session

import (
	"sync"
	"sync/atomic"

	backendtypes "flowrelay/pkg/backend/types"
)

// Guard is the exclusive handle of a session for the duration of one turn.
// Mutators are ignored once the guard has been released.
type Guard struct {
	session  *Session
	released atomic.Bool
	once     sync.Once
}

func (g *Guard) ChatID() string { return g.session.chatID }

func (g *Guard) BackendSession() backendtypes.Identity { return g.session.identity }

func (g *Guard) IsActive() bool { return g.session.IsActive() }

func (g *Guard) LastInteraction() (int64, bool) { return g.session.LastInteraction() }

// SetLastInteraction marks the conversation as in progress at unix second at.
func (g *Guard) SetLastInteraction(at int64) {
	if g.released.Load() {
		return
	}
	g.session.lastInteraction.Store(at)
}

// ClearLastInteraction marks the conversation as ended.
func (g *Guard) ClearLastInteraction() {
	if g.released.Load() {
		return
	}
	g.session.lastInteraction.Store(noInteraction)
}

func (g *Guard) PreviousMessage() (SentMessage, bool) { return g.session.PreviousMessage() }

func (g *Guard) SetPreviousMessage(message SentMessage) {
	if g.released.Load() {
		return
	}
	g.session.previousMu.Lock()
	g.session.previous = &message
	g.session.previousMu.Unlock()
}

// Release frees the session. It is safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.released.Store(true)
		g.session.turn.Unlock()
	})
}
