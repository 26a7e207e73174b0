package model

import "time"

// DeliveryStatus tracks the outcome of a notification delivery attempt.
type DeliveryStatus string

const (
	// DeliveryPending is set at insert time, before the dispatch attempt.
	DeliveryPending DeliveryStatus = "pending"

	// DeliverySent means the notification reached the sink.
	DeliverySent DeliveryStatus = "sent"

	// DeliveryFailed is terminal; failed deliveries are not retried in
	// later cycles.
	DeliveryFailed DeliveryStatus = "failed"
)

// LedgerEntry is the durable record of one processed message. Entries
// are inserted once, updated exactly once with the delivery outcome,
// and never deleted.
type LedgerEntry struct {
	ID             int64          `db:"id"`
	DedupKey       string         `db:"dedup_key"`
	Subject        string         `db:"subject"`
	Sender         string         `db:"sender"`
	Recipient      string         `db:"recipient"`
	Body           string         `db:"body"`
	HasImages      bool           `db:"has_images"`
	ImageCount     int            `db:"image_count"`
	ReceivedAt     time.Time      `db:"received_at"`
	ProcessedAt    time.Time      `db:"processed_at"`
	DeliveryStatus DeliveryStatus `db:"delivery_status"`
	DeliveredAt    *time.Time     `db:"delivered_at"`
	DeliveryError  string         `db:"delivery_error"`
}

// NewLedgerEntry builds a pending entry from a normalized message.
func NewLedgerEntry(msg *NormalizedMessage) LedgerEntry {
	return LedgerEntry{
		DedupKey:       msg.DedupKey,
		Subject:        msg.Subject,
		Sender:         msg.Sender,
		Recipient:      msg.Recipient,
		Body:           msg.Body,
		HasImages:      msg.HasImages(),
		ImageCount:     len(msg.Images),
		ReceivedAt:     msg.ReceivedAt.UTC(),
		ProcessedAt:    time.Now().UTC(),
		DeliveryStatus: DeliveryPending,
	}
}
