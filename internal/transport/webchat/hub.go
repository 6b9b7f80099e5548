// Package webchat serves a browser chat room over WebSocket.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/groupmind/internal/bot"
	"github.com/coder/websocket"
)

// ChatIDPrefix namespaces web chat rooms so they never collide with other
// transports' chat identifiers.
const ChatIDPrefix = "web:"

const writeTimeout = 5 * time.Second

// Event is a frame sent to browsers.
type Event struct {
	Type   string    `json:"type"`
	Room   string    `json:"room,omitempty"`
	From   string    `json:"from,omitempty"`
	Text   string    `json:"text,omitempty"`
	Format string    `json:"format,omitempty"`
	Action string    `json:"action,omitempty"`
	URLs   []string  `json:"urls,omitempty"`
	At     time.Time `json:"at"`
}

// peer is the write side of a connection. *websocket.Conn satisfies it.
type peer interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub tracks the connections of every room and implements bot.Transport by
// broadcasting to all of a room's connections.
type Hub struct {
	name string

	mu    sync.RWMutex
	rooms map[string]map[string]peer
}

var _ bot.Transport = (*Hub)(nil)

// NewHub creates a hub whose bot messages are signed with botName.
func NewHub(botName string) *Hub {
	return &Hub{
		name:  botName,
		rooms: make(map[string]map[string]peer),
	}
}

// ChatID returns the chat identifier of room.
func ChatID(room string) string {
	return ChatIDPrefix + room
}

// Register adds a connection to room under key. A previous connection with
// the same key is closed.
func (h *Hub) Register(room, key string, p peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]peer)
	}
	if existing, ok := h.rooms[room][key]; ok && existing != p {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.rooms[room][key] = p
	slog.Info("Web chat connection registered", "room", room, "key", key)
}

// Unregister removes the connection if it is still the current one for key.
func (h *Hub) Unregister(room, key string, p peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[room]
	if !ok {
		return
	}
	if current, exists := peers[key]; exists && current == p {
		delete(peers, key)
		if len(peers) == 0 {
			delete(h.rooms, room)
		}
		slog.Info("Web chat connection unregistered", "room", room, "key", key)
	}
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the names of rooms with at least one connection, sorted.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Broadcast writes ev to every connection in room. Failed writes are joined
// into the returned error; the remaining connections still receive ev.
func (h *Hub) Broadcast(ctx context.Context, room string, ev Event) error {
	ev.Room = room
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	peers := make([]peer, 0, len(h.rooms[room]))
	for _, p := range h.rooms[room] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	var errs []error
	for _, p := range peers {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := p.Write(writeCtx, websocket.MessageText, data); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("broadcast to room %s: %w", room, err)
	}
	return nil
}

// BotName returns the name bot messages are signed with.
func (h *Hub) BotName() string {
	return h.name
}

// SendText broadcasts a bot message. Text is MarkdownV2.
func (h *Hub) SendText(ctx context.Context, chatID, text string) error {
	room, err := roomOf(chatID)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, room, Event{Type: "message", From: h.name, Text: text, Format: "markdownv2"})
}

// SendAction broadcasts an in-progress indicator.
func (h *Hub) SendAction(ctx context.Context, chatID string, action bot.Action) error {
	room, err := roomOf(chatID)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, room, Event{Type: "action", From: h.name, Action: string(action)})
}

// SendMediaGroup broadcasts image URLs.
func (h *Hub) SendMediaGroup(ctx context.Context, chatID string, urls []string) error {
	room, err := roomOf(chatID)
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, room, Event{Type: "media", From: h.name, URLs: urls})
}

func roomOf(chatID string) (string, error) {
	room, ok := strings.CutPrefix(chatID, ChatIDPrefix)
	if !ok || room == "" {
		return "", fmt.Errorf("not a web chat id: %q", chatID)
	}
	return room, nil
}
