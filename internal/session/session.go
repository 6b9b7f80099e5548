// Package session holds per-chat conversation state and its keyed store.
package session

import (
	"github.com/ashureev/groupmind/internal/domain"
)

// State is the gating state of a chat session.
type State int

const (
	// Online accepts commands and observes plain messages. It is the default.
	Online State = iota
	// Offline discards all input. Only reachable through configuration.
	Offline
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Badge renders the state for a MarkdownV2 chat message.
func (s State) Badge() string {
	if s == Offline {
		return "`state` ❌"
	}
	return "`state` ✅"
}

// ChatSession is the state and memory of one chat.
type ChatSession struct {
	ChatID string
	State  State
	// History is only meaningful while State is Online.
	History domain.History
}

// Clone returns a deep copy of the session.
func (c ChatSession) Clone() ChatSession {
	return ChatSession{
		ChatID:  c.ChatID,
		State:   c.State,
		History: c.History.Clone(),
	}
}
