package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrOffline is returned when a mutation targets an offline session.
var ErrOffline = errors.New("session is offline")

// Store keeps one ChatSession per chat identifier in process memory.
// Mutations for the same chat are serialized by a per-chat mutex.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	offline map[string]struct{}
}

type entry struct {
	mu      sync.Mutex
	session ChatSession
}

// NewStore creates a store. Sessions created for chats listed in offlineChats
// start in the Offline state.
func NewStore(offlineChats []string) *Store {
	offline := make(map[string]struct{}, len(offlineChats))
	for _, id := range offlineChats {
		offline[id] = struct{}{}
	}
	return &Store{
		entries: make(map[string]*entry),
		offline: offline,
	}
}

func (s *Store) entry(chatID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[chatID]
	if !ok {
		state := Online
		if _, muted := s.offline[chatID]; muted {
			state = Offline
		}
		e = &entry{session: ChatSession{ChatID: chatID, State: state}}
		s.entries[chatID] = e
	}
	return e
}

// Get returns a snapshot of the session for chatID, creating it on first use.
func (s *Store) Get(chatID string) ChatSession {
	e := s.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// State returns the state of chatID's session, creating it on first use.
// Unlike Get it does not copy the history.
func (s *Store) State(chatID string) State {
	e := s.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

// Peek returns a snapshot without creating the session.
func (s *Store) Peek(chatID string) (ChatSession, bool) {
	s.mu.Lock()
	e, ok := s.entries[chatID]
	s.mu.Unlock()
	if !ok {
		return ChatSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), true
}

// Update applies fn to a copy of the session and stores the copy only if fn
// succeeds. The read, the computation and the store happen under the chat's
// lock, so concurrent callers never observe a partial mutation.
func (s *Store) Update(ctx context.Context, chatID string, fn func(*ChatSession) error) error {
	e := s.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update session %s: %w", chatID, err)
	}
	if e.session.State == Offline {
		return fmt.Errorf("update session %s: %w", chatID, ErrOffline)
	}

	next := e.session.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	e.session = next
	return nil
}

// ChatIDs returns the identifiers of all known sessions, sorted.
func (s *Store) ChatIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
