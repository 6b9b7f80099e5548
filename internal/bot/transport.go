// Package bot routes chat updates to command handlers.
package bot

import "context"

// Action is an in-progress indicator shown to the chat.
type Action string

const (
	ActionTyping      Action = "typing"
	ActionUploadPhoto Action = "upload_photo"
)

// Transport is the send-only side of a chat connection. Text is MarkdownV2.
type Transport interface {
	SendText(ctx context.Context, chatID, text string) error
	SendAction(ctx context.Context, chatID string, action Action) error
	SendMediaGroup(ctx context.Context, chatID string, urls []string) error
	// BotName is the bot's own display name, used to tag assistant turns
	// and to match "/command@name" addressing.
	BotName() string
}
