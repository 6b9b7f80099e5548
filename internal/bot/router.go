package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/groupmind/internal/command"
	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/imagegen"
	"github.com/ashureev/groupmind/internal/incident"
	"github.com/ashureev/groupmind/internal/llm"
	"github.com/ashureev/groupmind/internal/session"
)

// Reporter turns a backend failure into a user-facing message.
type Reporter interface {
	Report(ctx context.Context, chatID, command string, cause error) (id, message string)
}

// Config wires the router's collaborators.
type Config struct {
	Sessions *session.Store
	Text     llm.Client
	Images   imagegen.Client
	Reporter Reporter
	// TranscriptZone is the time zone of transcript timestamps. Defaults to UTC.
	TranscriptZone *time.Location
	Logger         *slog.Logger
}

// Router applies the session gating policy to one update and runs at most
// one handler for it.
type Router struct {
	sessions *session.Store
	text     llm.Client
	images   imagegen.Client
	reporter Reporter
	zone     *time.Location
	logger   *slog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg Config) *Router {
	r := &Router{
		sessions: cfg.Sessions,
		text:     cfg.Text,
		images:   cfg.Images,
		reporter: cfg.Reporter,
		zone:     cfg.TranscriptZone,
		logger:   cfg.Logger,
	}
	if r.sessions == nil {
		r.sessions = session.NewStore(nil)
	}
	if r.images == nil {
		r.images = imagegen.Disabled{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.reporter == nil {
		r.reporter = incident.NewReporter(r.logger, nil)
	}
	if r.zone == nil {
		r.zone = time.UTC
	}
	return r
}

// Sessions exposes the session store backing the router.
func (r *Router) Sessions() *session.Store {
	return r.sessions
}

// Route handles one update. Rules, first match wins:
//  1. offline chat: discard
//  2. recognized command: run its handler
//  3. plain message, including malformed commands: append to the group
//     transcript
//  4. anything else, such as a chat that went offline meanwhile: discard
//
// The returned error is a transport or session failure; backend failures are
// reported to the chat and never returned.
func (r *Router) Route(ctx context.Context, tr Transport, u domain.Update) error {
	if r.sessions.State(u.ChatID) != session.Online {
		r.silent(u)
		return nil
	}

	if cmd, ok := command.Parse(u.Text, tr.BotName()); ok {
		r.logger.Debug("dispatching command", "chat_id", u.ChatID, "command", cmd.Kind.String())
		switch cmd.Kind {
		case command.Chat:
			return r.chat(ctx, tr, u, cmd.Text)
		case command.Group:
			return r.group(ctx, tr, u, cmd.Text)
		case command.Image:
			return r.image(ctx, tr, u, cmd.Text)
		case command.Reset:
			return r.reset(ctx, tr, u)
		}
	}

	return r.record(ctx, u)
}

// record observes a plain message.
func (r *Router) record(ctx context.Context, u domain.Update) error {
	err := r.sessions.Update(ctx, u.ChatID, func(s *session.ChatSession) error {
		s.History.Observe(u.AsGroupMessage())
		return nil
	})
	if errors.Is(err, session.ErrOffline) {
		r.silent(u)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

func (r *Router) silent(u domain.Update) {
	r.logger.Debug("update discarded", "chat_id", u.ChatID)
}

// fail reports cause under a correlation id and tells the chat about it.
func (r *Router) fail(ctx context.Context, tr Transport, chatID string, kind command.Kind, cause error) error {
	_, msg := r.reporter.Report(ctx, chatID, kind.String(), cause)
	if err := tr.SendText(ctx, chatID, msg); err != nil {
		return fmt.Errorf("send error message: %w", err)
	}
	return nil
}
