// Package llm implements text-completion backends.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/groupmind/internal/domain"
)

const (
	// DefaultMaxTokens caps the completion length of every request.
	DefaultMaxTokens = 512
	// DefaultModel is used when a request does not name a model.
	DefaultModel = "gpt-4"
	// DefaultSystemPrompt is prepended when a request carries no override.
	DefaultSystemPrompt = "You are GPT-4, a Telegram chat bot"
)

// ErrNoChoices is returned when a backend answers without any completion.
var ErrNoChoices = errors.New("completion returned no choices")

// Request is one completion call.
type Request struct {
	Turns []domain.Turn
	// System overrides the client's default system prompt when set.
	System string
	// Model overrides the client's default model when set.
	Model     string
	MaxTokens int
}

// Choice is one completion alternative.
type Choice struct {
	Content string
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a completion call. Usage is nil when the backend
// did not report it.
type Response struct {
	Choices []Choice
	Usage   *Usage
}

// Text concatenates the content of all choices.
func (r *Response) Text() string {
	var b strings.Builder
	for _, c := range r.Choices {
		b.WriteString(c.Content)
	}
	return b.String()
}

// Client is a text-completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HealthChecker is implemented by backends that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Message is a chat message in the wire format shared by the backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

func wireRole(r domain.Role) string {
	switch r {
	case domain.RoleSystem:
		return "system"
	case domain.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

// buildMessages prepends the system turn and converts turns to wire messages.
func buildMessages(req Request, defaultSystem string) []Message {
	system := req.System
	if system == "" {
		system = defaultSystem
	}
	if system == "" {
		system = DefaultSystemPrompt
	}

	msgs := make([]Message, 0, len(req.Turns)+1)
	msgs = append(msgs, Message{Role: "system", Content: system})
	for _, t := range req.Turns {
		msgs = append(msgs, Message{
			Role:    wireRole(t.Role),
			Content: t.Content,
			Name:    sanitizeName(t.Name),
		})
	}
	return msgs
}

// sanitizeName maps a display name onto the [A-Za-z0-9_-]{1,64} alphabet
// accepted by OpenAI-compatible APIs.
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= 64 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func resolveModel(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if fallback != "" {
		return fallback
	}
	return DefaultModel
}

func resolveMaxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
