// Package telegram connects the bot to the Telegram Bot API via long polling.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/ashureev/groupmind/internal/bot"
	"github.com/ashureev/groupmind/internal/command"
	"github.com/ashureev/groupmind/internal/domain"
	tgbotapi "gopkg.in/telegram-bot-api.v4"
)

const (
	parseModeMarkdownV2 = "MarkdownV2"
	retryDelay          = 3 * time.Second
)

// Submitter accepts inbound updates. bot.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, tr bot.Transport, u domain.Update) error
}

// api is the subset of *tgbotapi.BotAPI used here.
type api interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params url.Values) (tgbotapi.APIResponse, error)
}

// Transport sends bot output to Telegram chats and polls for updates.
type Transport struct {
	api         api
	name        string
	pollTimeout int
	logger      *slog.Logger
}

// New connects to the Bot API with token.
func New(token string, pollTimeout int, debug bool, logger *slog.Logger) (*Transport, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	botAPI.Debug = debug
	return newTransport(botAPI, botAPI.Self.UserName, pollTimeout, logger), nil
}

func newTransport(a api, name string, pollTimeout int, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		api:         a,
		name:        name,
		pollTimeout: pollTimeout,
		logger:      logger.With("transport", "telegram"),
	}
}

// BotName returns the bot's Telegram username.
func (t *Transport) BotName() string {
	return t.name
}

// SendText sends a MarkdownV2 message.
func (t *Transport) SendText(_ context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = parseModeMarkdownV2
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %s: %w", chatID, err)
	}
	return nil
}

// SendAction shows a chat action such as "typing".
func (t *Transport) SendAction(_ context.Context, chatID string, action bot.Action) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	var kind string
	switch action {
	case bot.ActionUploadPhoto:
		kind = tgbotapi.ChatUploadPhoto
	default:
		kind = tgbotapi.ChatTyping
	}
	if _, err := t.api.Send(tgbotapi.NewChatAction(id, kind)); err != nil {
		return fmt.Errorf("send chat action to %s: %w", chatID, err)
	}
	return nil
}

type inputMediaPhoto struct {
	Type  string `json:"type"`
	Media string `json:"media"`
}

// SendMediaGroup sends the URLs as one photo album.
func (t *Transport) SendMediaGroup(_ context.Context, chatID string, urls []string) error {
	if _, err := parseChatID(chatID); err != nil {
		return err
	}
	media := make([]inputMediaPhoto, 0, len(urls))
	for _, u := range urls {
		media = append(media, inputMediaPhoto{Type: "photo", Media: u})
	}
	raw, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("encode media group: %w", err)
	}

	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("media", string(raw))
	if _, err := t.api.MakeRequest("sendMediaGroup", params); err != nil {
		return fmt.Errorf("send media group to %s: %w", chatID, err)
	}
	return nil
}

type botCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// RegisterCommands publishes the command list shown in Telegram clients.
func (t *Transport) RegisterCommands() error {
	descs := command.Descriptions()
	cmds := make([]botCommand, 0, len(descs))
	for _, d := range descs {
		cmds = append(cmds, botCommand{Command: d.Name, Description: d.Text})
	}
	raw, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}

	params := url.Values{}
	params.Set("commands", string(raw))
	if _, err := t.api.MakeRequest("setMyCommands", params); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// Run long-polls for updates and submits them until ctx is canceled.
func (t *Transport) Run(ctx context.Context, sink Submitter) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.pollTimeout

	t.logger.Info("Telegram polling started", "bot", t.name, "timeout", t.pollTimeout)
	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("Telegram polling stopped", "reason", err)
			return nil
		}

		updates, err := t.api.GetUpdates(cfg)
		if err != nil {
			t.logger.Warn("Failed to get updates, retrying", "error", err, "delay", retryDelay)
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				continue
			}
		}

		for _, upd := range updates {
			if upd.UpdateID >= cfg.Offset {
				cfg.Offset = upd.UpdateID + 1
			}
			u, ok := convert(upd)
			if !ok {
				continue
			}
			if err := sink.Submit(ctx, t, u); err != nil {
				t.logger.Warn("Failed to submit update", "chat_id", u.ChatID, "error", err)
			}
		}
	}
}

// convert maps a Telegram message update. Updates without a message are ignored.
func convert(upd tgbotapi.Update) (domain.Update, bool) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return domain.Update{}, false
	}

	u := domain.Update{
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
		SentAt: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		u.SenderID = strconv.Itoa(msg.From.ID)
		u.SenderName = msg.From.UserName
		if u.SenderName == "" {
			u.SenderName = msg.From.FirstName
		}
	}
	return u, true
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
