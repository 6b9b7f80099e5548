// Package command parses bot commands out of chat text.
package command

import (
	"strings"
	"unicode"
)

// Kind identifies a recognized command.
type Kind int

const (
	Chat Kind = iota + 1
	Image
	Group
	Reset
)

// String returns the command name without the leading slash.
func (k Kind) String() string {
	switch k {
	case Chat:
		return "chat"
	case Image:
		return "image"
	case Group:
		return "group"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Command is a parsed command with the argument its handler needs.
type Command struct {
	Kind Kind
	Text string
}

// Description documents a command for help listings.
type Description struct {
	Name string
	Text string
}

var descriptions = []Description{
	{Name: "chat", Text: "Keep the conversation going, the bot will keep context until /reset"},
	{Name: "image", Text: "Create an image using Stable Diffusion"},
	{Name: "group", Text: "Ask questions in the context of the group conversation"},
	{Name: "reset", Text: "Wipe chat from the bot's memory"},
}

// Descriptions returns the supported commands in display order.
func Descriptions() []Description {
	out := make([]Description, len(descriptions))
	copy(out, descriptions)
	return out
}

// Parse recognizes "/chat <text>", "/image <text>", "/group <text>" and
// "/reset". Command names are case-insensitive and may carry an "@bot"
// suffix, which must match botName when botName is set. Commands missing a
// required argument, unknown commands and a /reset followed by arguments
// are not commands.
func Parse(text, botName string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	head, rest := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], strings.TrimSpace(head[i:])
	}

	if name, mention, found := strings.Cut(head, "@"); found {
		if botName != "" && !strings.EqualFold(mention, strings.TrimPrefix(botName, "@")) {
			return Command{}, false
		}
		head = name
	}

	switch strings.ToLower(head) {
	case "chat":
		return withText(Chat, rest)
	case "image":
		return withText(Image, rest)
	case "group":
		return withText(Group, rest)
	case "reset":
		if rest != "" {
			return Command{}, false
		}
		return Command{Kind: Reset}, true
	default:
		return Command{}, false
	}
}

func withText(kind Kind, text string) (Command, bool) {
	if text == "" {
		return Command{}, false
	}
	return Command{Kind: kind, Text: text}, true
}
