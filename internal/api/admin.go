package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/middleware"
	"github.com/ashureev/groupmind/internal/session"
	"github.com/ashureev/groupmind/internal/store"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes incident lookups and session inspection to operators.
type AdminHandler struct {
	repo     store.Repository
	sessions *session.Store
	token    string
}

// NewAdminHandler creates an admin handler guarded by a bearer token.
func NewAdminHandler(repo store.Repository, sessions *session.Store, token string) *AdminHandler {
	return &AdminHandler{repo: repo, sessions: sessions, token: token}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireBearer(h.token))
		r.Get("/incidents/{id}", h.GetIncident)
		r.Get("/chats", h.ListChats)
		r.Get("/chats/{chatID}", h.GetChat)
	})
}

// GetIncident resolves a correlation identifier shown to a user.
func (h *AdminHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := h.repo.GetIncident(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load incident", "error_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	JSON(w, http.StatusOK, inc)
}

// ListChats lists the chats known to this process.
func (h *AdminHandler) ListChats(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"chats": h.sessions.ChatIDs()})
}

type chatView struct {
	ChatID       string        `json:"chat_id"`
	State        string        `json:"state"`
	GroupLogSize int           `json:"group_log_size"`
	Dialogue     []domain.Turn `json:"dialogue"`
}

// GetChat shows a chat's state and memory sizes.
func (h *AdminHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	s, ok := h.sessions.Peek(chatID)
	if !ok {
		Error(w, http.StatusNotFound, "chat not found")
		return
	}
	dialogue := s.History.Dialogue
	if dialogue == nil {
		dialogue = []domain.Turn{}
	}
	JSON(w, http.StatusOK, chatView{
		ChatID:       s.ChatID,
		State:        s.State.String(),
		GroupLogSize: len(s.History.GroupLog),
		Dialogue:     dialogue,
	})
}
