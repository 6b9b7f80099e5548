// Package domain contains core domain types for the groupmind bot.
package domain

import (
	"time"
)

// Update is one inbound message delivered by a transport.
type Update struct {
	ChatID     string
	SenderID   string
	SenderName string
	Text       string
	SentAt     time.Time
}

// AsGroupMessage converts the update into a transcript entry.
func (u Update) AsGroupMessage() GroupMessage {
	return GroupMessage{
		SenderID:   u.SenderID,
		SenderName: u.SenderName,
		Text:       u.Text,
		SentAt:     u.SentAt,
	}
}

// Incident records a backend failure behind a correlation identifier.
type Incident struct {
	ErrorID   string    `json:"error_id"`
	ChatID    string    `json:"chat_id"`
	Command   string    `json:"command"`
	Cause     string    `json:"cause"`
	CreatedAt time.Time `json:"created_at"`
}
