package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/groupmind/internal/command"
	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/imagegen"
	"github.com/ashureev/groupmind/internal/llm"
	"github.com/ashureev/groupmind/internal/markup"
	"github.com/ashureev/groupmind/internal/session"
)

const (
	// GroupSystemPrompt frames /group questions.
	GroupSystemPrompt = "You are a Telegram chat bot that helps humans to understand what is happening or has happened in group chats"

	// UsageAdvisoryThreshold is the total token count above which a chat
	// reply suggests a reset.
	UsageAdvisoryThreshold = 6000

	transcriptTimeLayout = "2006-01-02 15:04:05"
	resetConfirmation    = "`Bot chat history has been erased` ✅"
	usageAdvisory        = "\n`Reaching 8k limit, consider running /reset soon`"
)

// chat sends the dialogue plus the new user turn to the text backend and
// commits both the user turn and the answer. Nothing is committed when the
// backend fails. The backend runs outside the session lock; the dispatcher
// already serializes updates of a chat.
func (r *Router) chat(ctx context.Context, tr Transport, u domain.Update, text string) error {
	if err := tr.SendAction(ctx, u.ChatID, ActionTyping); err != nil {
		return fmt.Errorf("send typing action: %w", err)
	}

	userTurn := domain.Turn{Role: domain.RoleUser, Content: text, Name: u.SenderName}
	sess := r.sessions.Get(u.ChatID)
	turns := append(sess.History.Dialogue, userTurn)

	resp, err := complete(ctx, r.text, llm.Request{
		Turns:     turns,
		MaxTokens: llm.DefaultMaxTokens,
	})
	if err != nil {
		return r.fail(ctx, tr, u.ChatID, command.Chat, err)
	}

	err = r.sessions.Update(ctx, u.ChatID, func(s *session.ChatSession) error {
		s.History.AppendTurn(userTurn)
		for _, c := range resp.Choices {
			s.History.AppendTurn(domain.Turn{Role: domain.RoleAssistant, Content: c.Content, Name: tr.BotName()})
		}
		return nil
	})
	if errors.Is(err, session.ErrOffline) {
		r.silent(u)
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit chat session: %w", err)
	}

	return r.sendText(ctx, tr, u.ChatID, formatChatReply(resp))
}

// group asks a one-shot question about the transcript. The session is only read.
func (r *Router) group(ctx context.Context, tr Transport, u domain.Update, question string) error {
	if err := tr.SendAction(ctx, u.ChatID, ActionTyping); err != nil {
		return fmt.Errorf("send typing action: %w", err)
	}

	sess := r.sessions.Get(u.ChatID)
	prompt := groupPrompt(sess.History.GroupLog, question, r.zone)

	resp, err := complete(ctx, r.text, llm.Request{
		System:    GroupSystemPrompt,
		Turns:     []domain.Turn{{Role: domain.RoleUser, Content: prompt, Name: u.SenderName}},
		MaxTokens: llm.DefaultMaxTokens,
	})
	if err != nil {
		return r.fail(ctx, tr, u.ChatID, command.Group, err)
	}
	return r.sendText(ctx, tr, u.ChatID, markup.Escape(resp.Text()))
}

func (r *Router) image(ctx context.Context, tr Transport, u domain.Update, prompt string) error {
	if err := tr.SendAction(ctx, u.ChatID, ActionUploadPhoto); err != nil {
		return fmt.Errorf("send upload action: %w", err)
	}

	urls, err := r.images.Generate(ctx, prompt)
	if err == nil {
		if urls = validURLs(urls); len(urls) == 0 {
			err = imagegen.ErrNoOutput
		}
	}
	if err != nil {
		return r.fail(ctx, tr, u.ChatID, command.Image, err)
	}

	if err := tr.SendMediaGroup(ctx, u.ChatID, urls); err != nil {
		return fmt.Errorf("send media group: %w", err)
	}
	return nil
}

func (r *Router) reset(ctx context.Context, tr Transport, u domain.Update) error {
	if err := tr.SendAction(ctx, u.ChatID, ActionTyping); err != nil {
		return fmt.Errorf("send typing action: %w", err)
	}

	err := r.sessions.Update(ctx, u.ChatID, func(s *session.ChatSession) error {
		s.History.ResetDialogue()
		return nil
	})
	if errors.Is(err, session.ErrOffline) {
		r.silent(u)
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return r.sendText(ctx, tr, u.ChatID, resetConfirmation)
}

func (r *Router) sendText(ctx context.Context, tr Transport, chatID, text string) error {
	if err := tr.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// complete performs a single backend call and treats an empty answer as a
// failure.
func complete(ctx context.Context, c llm.Client, req llm.Request) (*llm.Response, error) {
	if c == nil {
		return nil, errors.New("no text backend configured")
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, llm.ErrNoChoices
	}
	return resp, nil
}

func formatChatReply(resp *llm.Response) string {
	var b strings.Builder
	b.WriteString(markup.Escape(resp.Text()))
	if u := resp.Usage; u != nil {
		fmt.Fprintf(&b, "\n\n`usage %d tokens = %d prompt + %d completion`",
			u.TotalTokens, u.PromptTokens, u.CompletionTokens)
		if u.TotalTokens > UsageAdvisoryThreshold {
			b.WriteString(usageAdvisory)
		}
	}
	return b.String()
}

// groupPrompt renders the transcript as "name [time]: text" lines followed by
// the question. Entries without a sender name or text are skipped.
func groupPrompt(log []domain.GroupMessage, question string, zone *time.Location) string {
	var lines strings.Builder
	for _, m := range log {
		if m.SenderName == "" || m.Text == "" {
			continue
		}
		fmt.Fprintf(&lines, "%s [%s]: %s\n", m.SenderName, m.SentAt.In(zone).Format(transcriptTimeLayout), m.Text)
	}
	return fmt.Sprintf("Use the following conversation as context: \n\n ###%s###  \n\n %s ", lines.String(), question)
}

// validURLs keeps absolute http(s) URLs.
func validURLs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		out = append(out, u.String())
	}
	return out
}
