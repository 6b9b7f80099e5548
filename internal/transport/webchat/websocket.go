package webchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/groupmind/internal/bot"
	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/identity"
	"github.com/coder/websocket"
)

// DefaultRoom is joined when the request names no room.
const DefaultRoom = "lobby"

const maxMessageBytes = 16 << 10

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Submitter accepts inbound updates. bot.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, tr bot.Transport, u domain.Update) error
}

// WebSocketHandler upgrades browser connections and feeds their messages to
// the bot.
type WebSocketHandler struct {
	hub            *Hub
	sink           Submitter
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, sink Submitter, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		sink:           sink,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// wsMessage is a frame received from browsers.
type wsMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	username := identity.UsernameFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	room := roomFromRequest(r)
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "room", room, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	key := userID + ":" + sessionID
	h.hub.Register(room, key, ws)
	defer h.hub.Unregister(room, key, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.hub.Broadcast(ctx, room, Event{Type: "joined", From: username}); err != nil {
		slog.Debug("Failed to announce join", "error", err, "room", room)
	}

	h.readLoop(ctx, ws, room, userID, username)
	slog.Info("Web chat session ended", "user_id", userID, "room", room)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, room, userID, username string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Bare text frames are treated as messages.
			msg = wsMessage{Type: "message", Text: string(data)}
		}

		switch msg.Type {
		case "message":
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			if err := h.hub.Broadcast(ctx, room, Event{Type: "message", From: username, Text: text}); err != nil {
				slog.Debug("Failed to echo message", "error", err, "room", room)
			}
			u := domain.Update{
				ChatID:     ChatID(room),
				SenderID:   userID,
				SenderName: username,
				Text:       text,
				SentAt:     time.Now(),
			}
			if err := h.sink.Submit(ctx, h.hub, u); err != nil {
				slog.Warn("Failed to submit web chat update", "error", err, "room", room)
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, Event{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

func roomFromRequest(r *http.Request) string {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if !roomPattern.MatchString(room) {
		return DefaultRoom
	}
	return room
}
