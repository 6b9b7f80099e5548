package domain

import (
	"slices"
	"time"
)

// Role identifies who produced a dialogue turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the structured assistant dialogue.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name is the display name of the participant that produced the turn.
	// Empty for synthetic system turns.
	Name string `json:"name,omitempty"`
}

// GroupMessage is a raw message observed in a chat.
type GroupMessage struct {
	SenderID   string
	SenderName string
	Text       string
	SentAt     time.Time
}

// History holds the two independent memories of a chat.
type History struct {
	GroupLog []GroupMessage
	Dialogue []Turn
}

// Observe appends a raw message to the group transcript.
func (h *History) Observe(msg GroupMessage) {
	h.GroupLog = append(h.GroupLog, msg)
}

// AppendTurn appends a turn to the assistant dialogue.
func (h *History) AppendTurn(t Turn) {
	h.Dialogue = append(h.Dialogue, t)
}

// ResetDialogue clears the assistant dialogue. The group transcript is kept.
func (h *History) ResetDialogue() {
	h.Dialogue = nil
}

// Clone returns a deep copy that shares no backing arrays with h.
func (h History) Clone() History {
	return History{
		GroupLog: slices.Clone(h.GroupLog),
		Dialogue: slices.Clone(h.Dialogue),
	}
}
