package session

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"flowrelay/pkg/config"
	"flowrelay/pkg/fault"
)

// Store is the concurrent table of sessions of one client.
type Store struct {
	ttl   int64
	now   func() time.Time
	log   *slog.Logger
	seeds []config.SessionSeed

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a session stays valid after its last interaction.
// Zero keeps sessions valid until their conversation ends.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = int64(ttl / time.Second)
	}
}

// WithSeeds preloads sessions. Later seeds win over earlier ones for the same chat.
func WithSeeds(seeds []config.SessionSeed) Option {
	return func(s *Store) {
		s.seeds = append(s.seeds, seeds...)
	}
}

// WithClock replaces the wall clock used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session.store")

	for _, seed := range s.seeds {
		chatID := strings.TrimSpace(seed.ChatID)
		if chatID == "" {
			continue
		}
		s.sessions[chatID] = newSession(chatID, seed.IsActive, seed.LastInteraction)
	}
	if len(s.seeds) > 0 {
		s.log.Info("Loaded session seeds", "count", len(s.sessions))
	}
	s.seeds = nil

	return s
}

// Get returns the session of a chat only while it is valid.
func (s *Store) Get(chatID string) (*Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[chatID]
	s.mu.RUnlock()
	if !ok || !session.validAt(s.now().Unix(), s.ttl) {
		return nil, false
	}
	return session, true
}

// GetOrCreate returns the session of a chat whether or not it is valid,
// creating an active one on first contact.
func (s *Store) GetOrCreate(chatID string) *Session {
	s.mu.RLock()
	session, ok := s.sessions[chatID]
	s.mu.RUnlock()
	if ok {
		return session
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(chatID)
}

// Acquire claims the session of a chat for one turn, creating it on first
// contact, and reports whether it was valid when claimed. The claim is taken
// under the store lock so Reap cannot remove the session in between.
func (s *Store) Acquire(chatID string) (*Guard, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.getOrCreateLocked(chatID)
	guard, err := session.TryLock()
	if err != nil {
		return nil, false, err
	}
	return guard, session.validAt(s.now().Unix(), s.ttl), nil
}

func (s *Store) getOrCreateLocked(chatID string) *Session {
	if session, ok := s.sessions[chatID]; ok {
		return session
	}

	session := newSession(chatID, true, nil)
	s.sessions[chatID] = session
	s.log.Debug("Created session", "chat_id", chatID)
	return session
}

// Lookup returns the session of a chat regardless of validity.
func (s *Store) Lookup(chatID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[chatID]
	return session, ok
}

// Delete removes the session of a chat. A session held by a turn is left in
// place and Delete reports false.
func (s *Store) Delete(chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[chatID]
	if !ok {
		return false, nil
	}
	if !session.turn.TryLock() {
		return false, fault.Newf(fault.CategorySessionLocked, "chat %s is handling another update", chatID)
	}
	delete(s.sessions, chatID)
	session.turn.Unlock()
	return true, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reap removes invalid sessions that no turn is holding and returns how many were removed.
func (s *Store) Reap() int {
	now := s.now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for chatID, session := range s.sessions {
		if session.validAt(now, s.ttl) {
			continue
		}
		if !session.turn.TryLock() {
			continue
		}
		delete(s.sessions, chatID)
		session.turn.Unlock()
		removed++
	}

	return removed
}

// Snapshot returns every session as a seed, ordered by chat id.
func (s *Store) Snapshot() []config.SessionSeed {
	s.mu.RLock()
	seeds := make([]config.SessionSeed, 0, len(s.sessions))
	for chatID, session := range s.sessions {
		seed := config.SessionSeed{ChatID: chatID, IsActive: session.IsActive()}
		if last, ok := session.LastInteraction(); ok {
			seed.LastInteraction = &last
		}
		seeds = append(seeds, seed)
	}
	s.mu.RUnlock()

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ChatID < seeds[j].ChatID })
	return seeds
}
