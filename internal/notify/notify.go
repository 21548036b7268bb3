// Package notify delivers formatted posts to the notification channel.
//
// The only production implementation targets a Discord webhook; the Notifier
// interface exists so the poll loop can be exercised with fakes.
package notify

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

// Notifier sends one formatted post, with its media attachments, as a single
// delivery. Implementations handle rate limiting and transient-retry
// internally; an error return means the delivery did not happen.
type Notifier interface {
	Deliver(ctx context.Context, content string, media []models.MediaAttachment) error
}

// Discard drops every message. Used when notifications are disabled so the
// rest of the pipeline (ledger, cache) still runs.
type Discard struct{}

// Deliver logs and discards the message.
func (Discard) Deliver(ctx context.Context, content string, media []models.MediaAttachment) error {
	slog.Info("Discard.Deliver: notifications disabled, dropping message", "length", len(content), "attachments", len(media))
	return nil
}
