// Package scheduler drives the processing loop: on a fixed interval it
// retrieves mailbox messages, extracts them, dedup-checks against the
// ledger, dispatches notifications, records outcomes, and marks source
// messages for deletion.
package scheduler

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nhle/mailbridge/internal/ledger"
	"github.com/nhle/mailbridge/internal/model"
)

// Mailbox is the narrow mailbox-protocol surface the scheduler drives.
// The connection is acquired per cycle and never reused.
type Mailbox interface {
	Connect() error
	ListMessages() ([]uint32, error)
	Retrieve(seqNum uint32) ([]byte, error)
	MarkForDeletion(seqNum uint32) error
	Disconnect()
}

// Ledger is the dedup and outcome store.
type Ledger interface {
	IsProcessed(ctx context.Context, dedupKey string) bool
	Save(ctx context.Context, entry model.LedgerEntry) (int64, error)
	RecordOutcome(ctx context.Context, id int64, success bool, errText string) error
}

// Extractor parses raw messages.
type Extractor interface {
	Extract(raw []byte, seqNum uint32) (*model.NormalizedMessage, error)
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Deliver(ctx context.Context, msg *model.NormalizedMessage) (success bool, errText string)
}

// Scheduler owns one processing loop over injected collaborators.
type Scheduler struct {
	mailbox    Mailbox
	extractor  Extractor
	ledger     Ledger
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger
}

// New wires a scheduler. Nothing runs until Run.
func New(
	mailbox Mailbox,
	extractor Extractor,
	ledger Ledger,
	dispatcher Dispatcher,
	interval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		mailbox:    mailbox,
		extractor:  extractor,
		ledger:     ledger,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

// Run executes one cycle immediately and then on every interval tick
// until ctx is cancelled. Cancellation is only observed between
// cycles: an in-flight cycle always runs to completion, so no
// message's ledger write, outcome write, or deletion mark is torn by
// shutdown. Processing errors never terminate the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler starting", "interval", s.interval)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.runCycle(ctx)

			// A cycle that overran the interval leaves a buffered
			// tick behind; drain it so the next cycle waits for a
			// fresh tick instead of firing immediately.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// runCycle performs retrieve → process → cleanup for one batch. The
// mailbox connection is scoped to the cycle and released on every exit
// path.
func (s *Scheduler) runCycle(ctx context.Context) {
	// Shutdown is observed between cycles only. Detach the cycle's
	// context so a cancellation arriving mid-message cannot fail the
	// outcome write after the entry exists and before the deletion
	// mark.
	ctx = context.WithoutCancel(ctx)

	log := s.logger.With("cycle", uuid.New().String()[:8])
	log.Info("starting mail check")

	if err := s.mailbox.Connect(); err != nil {
		log.Error("failed to connect to mail server", "error", err)
		s.mailbox.Disconnect()
		return
	}
	defer s.mailbox.Disconnect()

	seqs, err := s.mailbox.ListMessages()
	if err != nil {
		log.Error("failed to list messages", "error", err)
		return
	}
	if len(seqs) == 0 {
		log.Info("mailbox empty")
		return
	}
	log.Info("found messages on server", "count", len(seqs))

	processed := 0
	for _, seq := range seqs {
		if s.processMessage(ctx, log, seq) {
			processed++
		}
	}

	log.Info("mail check completed", "new_messages", processed)
}

// processMessage handles a single message end to end. It returns true
// when a new ledger entry was created. Every failure is contained
// here; the batch always continues with the next message.
func (s *Scheduler) processMessage(ctx context.Context, log *slog.Logger, seq uint32) bool {
	raw, err := s.mailbox.Retrieve(seq)
	if err != nil {
		log.Error("failed to retrieve message", "seq", seq, "error", err)
		return false
	}

	msg, err := s.extractor.Extract(raw, seq)
	if err != nil {
		log.Error("failed to extract message", "seq", seq, "error", err)
		return false
	}

	if s.ledger.IsProcessed(ctx, msg.DedupKey) {
		// Already ledgered in a prior cycle whose deletion did not
		// stick; clear it from the source without redelivering.
		log.Info("message already processed",
			"seq", seq, "subject", msg.Subject)
		s.markForDeletion(log, seq)
		return false
	}

	id, err := s.ledger.Save(ctx, model.NewLedgerEntry(msg))
	if errors.Is(err, ledger.ErrDuplicateKey) {
		log.Info("message raced into ledger, treating as processed",
			"seq", seq, "dedup_key", msg.DedupKey)
		s.markForDeletion(log, seq)
		return false
	}
	if err != nil {
		// No ledger entry exists, so the message stays in the mailbox
		// for the next cycle.
		log.Error("failed to save message", "seq", seq, "error", err)
		return false
	}

	success, errText := s.dispatcher.Deliver(ctx, msg)

	if err := s.ledger.RecordOutcome(ctx, id, success, errText); err != nil {
		log.Error("failed to record delivery outcome",
			"id", id, "error", err)
	}

	// Removal is unconditional once the entry exists: a permanently
	// undeliverable message must not be reprocessed forever.
	s.markForDeletion(log, seq)

	log.Info("processed message",
		"seq", seq,
		"subject", msg.Subject,
		"images", len(msg.Images),
		"delivered", success,
	)
	return true
}

// markForDeletion requests advisory removal and logs failures; the
// message will simply be seen again next cycle.
func (s *Scheduler) markForDeletion(log *slog.Logger, seq uint32) {
	if err := s.mailbox.MarkForDeletion(seq); err != nil {
		log.Error("failed to mark message for deletion",
			"seq", seq, "error", err)
	}
}
