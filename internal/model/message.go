package model

import "time"

// Sentinel values substituted when a header is absent from the source
// message.
const (
	NoSubject        = "No Subject"
	UnknownSender    = "Unknown Sender"
	UnknownRecipient = "Unknown Recipient"
)

// Image is a single image extracted from a MIME part, in document order.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int
}

// NormalizedMessage is the extractor's view of one mailbox message.
// It lives for a single processing cycle; SeqNum is only meaningful
// within the mailbox session that produced it.
type NormalizedMessage struct {
	// SeqNum is the message's position in the source mailbox for this
	// session. Used for deletion marking only.
	SeqNum uint32

	// DedupKey identifies the message across sessions. It is the
	// Message-ID header when one exists, otherwise a sequence-number
	// plus receipt-timestamp fallback.
	DedupKey string

	Subject   string
	Sender    string
	Recipient string

	// Body is plain text. HTML sources are converted with block-level
	// separation preserved.
	Body string

	Images []Image

	ReceivedAt time.Time
}

// HasImages reports whether any image parts were extracted.
func (m *NormalizedMessage) HasImages() bool {
	return len(m.Images) > 0
}
