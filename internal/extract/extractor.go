// Package extract turns raw mailbox message payloads into normalized
// records: decoded headers, a plain-text body, and any image parts.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailbridge/internal/model"
)

// Extractor parses MIME messages. Safe for reuse across messages.
type Extractor struct {
	logger *slog.Logger
}

// New creates an extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract parses a raw RFC 5322 message into a NormalizedMessage.
// Individual parts that fail to decode are skipped; an error is
// returned only when the message as a whole cannot be parsed. The
// caller is expected to drop such messages and continue the batch.
func (e *Extractor) Extract(raw []byte, seqNum uint32) (*model.NormalizedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("parsing message %d: %w", seqNum, err)
	}
	defer mr.Close()

	msg := &model.NormalizedMessage{
		SeqNum:    seqNum,
		Subject:   headerText(mr.Header, "Subject", model.NoSubject),
		Sender:    headerText(mr.Header, "From", model.UnknownSender),
		Recipient: headerText(mr.Header, "To", model.UnknownRecipient),
	}

	// An absent or unparseable Date degrades to extraction time. This
	// feeds the dedup-key fallback, so parse failures here widen the
	// collision window.
	received, dateErr := mr.Header.Date()
	if dateErr != nil || received.IsZero() {
		received = time.Now().UTC()
	}
	msg.ReceivedAt = received

	msg.DedupKey = e.dedupKey(mr.Header, seqNum, received)

	plainBody, htmlBody := e.walkParts(mr, msg)

	// Prefer the HTML variant when it renders to non-empty text;
	// plain text wins if HTML parsing yields nothing.
	body := plainBody
	if htmlBody != "" {
		if text := htmlToText(htmlBody); text != "" {
			body = text
		}
	}
	msg.Body = strings.TrimSpace(body)

	return msg, nil
}

// walkParts iterates MIME parts in document order, collecting the
// first plain and HTML body candidates and every image part.
func (e *Extractor) walkParts(mr *mail.Reader, msg *model.NormalizedMessage) (plainBody, htmlBody string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed part boundary; nothing further is readable.
			e.logger.Warn("stopping part walk on malformed part", "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, ctErr := h.ContentType()
			if ctErr != nil {
				continue
			}

			if strings.HasPrefix(contentType, "image/") {
				filename := params["name"]
				if filename == "" {
					// Inline parts may still declare a disposition
					// filename.
					if _, dispParams, dispErr := h.ContentDisposition(); dispErr == nil {
						filename = dispParams["filename"]
					}
				}
				e.captureImage(part.Body, contentType, filename, msg)
				continue
			}

			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				e.logger.Warn("skipping undecodable part",
					"content_type", contentType, "error", readErr)
				continue
			}

			// Only the first body part of each type is used.
			switch {
			case strings.HasPrefix(contentType, "text/plain") && plainBody == "":
				plainBody = decodeText(data)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = decodeText(data)
			}

		case *mail.AttachmentHeader:
			contentType, _, ctErr := h.ContentType()
			if ctErr != nil {
				continue
			}

			// Images are forwarded regardless of disposition; every
			// other attachment is dropped outright.
			if strings.HasPrefix(contentType, "image/") {
				filename, _ := h.Filename()
				e.captureImage(part.Body, contentType, filename, msg)
			}
		}
	}

	return plainBody, htmlBody
}

// captureImage reads one image part into the message. A missing
// filename gets a synthesized, collision-resistant name.
func (e *Extractor) captureImage(body io.Reader, contentType, filename string, msg *model.NormalizedMessage) {
	data, err := io.ReadAll(body)
	if err != nil {
		e.logger.Warn("skipping undecodable image part",
			"content_type", contentType, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	if filename == "" {
		filename = synthesizeFilename(contentType)
	}

	msg.Images = append(msg.Images, model.Image{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Size:        len(data),
	})
}

// dedupKey prefers the Message-ID header, which is stable across
// sessions. Messages without one fall back to the sequence number plus
// receipt timestamp, a scheme that can collide across sessions.
func (e *Extractor) dedupKey(h mail.Header, seqNum uint32, received time.Time) string {
	if mid, err := h.MessageID(); err == nil && mid != "" {
		return mid
	}
	return fmt.Sprintf("%d_%d", seqNum, received.Unix())
}

// headerText decodes a header field, tolerating broken encoded words:
// go-message returns its best-effort decoding alongside the error, and
// that value is kept rather than surfacing the failure.
func headerText(h mail.Header, field, fallback string) string {
	text, err := h.Text(field)
	if text == "" && err != nil {
		text = h.Get(field)
	}
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

// decodeText converts part bytes to a string, replacing invalid UTF-8
// rather than failing. Charset conversion has already been applied by
// the mail reader where the charset was known.
func decodeText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

// synthesizeFilename builds a name from the content type and current
// time so unnamed images within a batch stay distinct.
func synthesizeFilename(contentType string) string {
	ext := "bin"
	if idx := strings.Index(contentType, "/"); idx >= 0 && idx+1 < len(contentType) {
		ext = contentType[idx+1:]
	}
	return fmt.Sprintf("image_%d.%s", time.Now().UnixNano(), ext)
}
