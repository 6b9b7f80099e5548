// Package incident correlates backend failures with an opaque identifier.
//
// The cause of a failure is written to the operational log and to the
// incident ledger; the chat only ever receives the identifier.
package incident

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/ashureev/groupmind/internal/domain"
	"github.com/ashureev/groupmind/internal/markup"
	"github.com/google/uuid"
)

const userMessagePrefix = "there was an error processing your request, you can use this ID to track the issue "

// Recorder persists incidents. store.Repository satisfies it.
type Recorder interface {
	InsertIncident(ctx context.Context, inc *domain.Incident) error
}

// Reporter mints correlation identifiers for failures.
type Reporter struct {
	logger   *slog.Logger
	recorder Recorder
	newID    func() string
	now      func() time.Time
}

// NewReporter creates a Reporter. recorder may be nil, in which case
// incidents are only logged.
func NewReporter(logger *slog.Logger, recorder Recorder) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger:   logger,
		recorder: recorder,
		newID:    NewID,
		now:      time.Now,
	}
}

// NewID returns a fresh random 128-bit identifier as 32 lowercase hex digits.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Report logs cause under a new identifier and returns the identifier along
// with the MarkdownV2 message to show the user.
func (r *Reporter) Report(ctx context.Context, chatID, command string, cause error) (string, string) {
	id := r.newID()
	r.logger.Error("request failed",
		"error_id", id,
		"error", cause,
		"chat_id", chatID,
		"command", command)

	if r.recorder != nil {
		inc := &domain.Incident{
			ErrorID:   id,
			ChatID:    chatID,
			Command:   command,
			Cause:     errorString(cause),
			CreatedAt: r.now(),
		}
		// Record even when the handler context was canceled.
		if err := r.recorder.InsertIncident(context.WithoutCancel(ctx), inc); err != nil {
			r.logger.Warn("failed to record incident", "error_id", id, "error", err)
		}
	}

	return id, Message(id)
}

// Message renders the user-facing text for a correlation identifier.
func Message(id string) string {
	return markup.Escape(userMessagePrefix) + markup.Code(id)
}

func errorString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
