// Package notify renders normalized messages into Telegram
// notifications and dispatches them, falling back to text-only
// delivery when an image-bearing send fails.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nhle/mailbridge/internal/model"
)

// maxAlbumPhotos caps a media group. The Bot API allows 10; five keeps
// well clear of per-request size limits.
const maxAlbumPhotos = 5

// headerReserve is the space kept for the notification header lines
// when truncating the body.
const headerReserve = 500

// truncationMarker is appended to a body cut at the length limit.
const truncationMarker = "\n\n... (message truncated)"

// Sink is the chat-API surface the dispatcher sends through.
type Sink interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photo model.Image, caption string) error
	SendAlbum(ctx context.Context, photos []model.Image, caption string) error
}

// Dispatcher formats and delivers notifications.
type Dispatcher struct {
	sink      Sink
	maxLength int
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. maxLength bounds the rendered
// notification text, header included.
func NewDispatcher(sink Sink, maxLength int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		maxLength: maxLength,
		logger:    logger,
	}
}

// Deliver sends one notification for the message and reports the
// outcome. A failed image delivery is retried once as text-only before
// the whole delivery counts as failed; in that case the returned error
// text carries both causes. Deliver never retries beyond that.
func (d *Dispatcher) Deliver(ctx context.Context, msg *model.NormalizedMessage) (bool, string) {
	text := d.format(msg)

	if len(msg.Images) == 0 {
		if err := d.sink.SendText(ctx, text); err != nil {
			d.logger.Error("text notification failed", "error", err)
			return false, err.Error()
		}
		d.logger.Info("text notification sent", "subject", msg.Subject)
		return true, ""
	}

	if err := d.deliverWithImages(ctx, msg, text); err != nil {
		d.logger.Error("image notification failed, retrying as text",
			"subject", msg.Subject, "error", err)

		if fallbackErr := d.sink.SendText(ctx, text); fallbackErr != nil {
			combined := fmt.Sprintf(
				"%s; text fallback failed: %s", err, fallbackErr,
			)
			return false, combined
		}
		d.logger.Info("fallback text notification sent", "subject", msg.Subject)
		return true, ""
	}

	d.logger.Info("image notification sent",
		"subject", msg.Subject, "images", len(msg.Images))
	return true, ""
}

// deliverWithImages picks the delivery shape for an image-bearing
// message: a captioned photo for one image, a capped album otherwise.
func (d *Dispatcher) deliverWithImages(ctx context.Context, msg *model.NormalizedMessage, caption string) error {
	if len(msg.Images) == 1 {
		return d.sink.SendPhoto(ctx, msg.Images[0], caption)
	}

	photos := msg.Images
	if len(photos) > maxAlbumPhotos {
		d.logger.Warn("dropping surplus album images",
			"sent", maxAlbumPhotos, "extracted", len(photos))
		photos = photos[:maxAlbumPhotos]
	}

	return d.sink.SendAlbum(ctx, photos, caption)
}

// format renders the notification text. The body is truncated before
// escaping so entity expansion cannot push the result past the limit
// it was cut to.
func (d *Dispatcher) format(msg *model.NormalizedMessage) string {
	body := msg.Body

	maxBody := d.maxLength - headerReserve
	if runes := []rune(body); len(runes) > maxBody {
		body = string(runes[:maxBody]) + truncationMarker
	}

	body = escapeHTML(body)
	if body == "" {
		body = "No content"
	}

	var b strings.Builder
	b.WriteString("\U0001F4E7 <b>New Email Received</b>\n\n")
	b.WriteString("<b>From:</b> " + escapeHTML(msg.Sender) + "\n")
	b.WriteString("<b>Subject:</b> " + escapeHTML(msg.Subject) + "\n")
	b.WriteString("<b>Content:</b>\n" + body)
	return b.String()
}

// escapeHTML escapes the characters Telegram's HTML parse mode treats
// as markup.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
