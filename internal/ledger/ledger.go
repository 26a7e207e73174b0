// Package ledger is the durable record of processed messages and their
// delivery outcomes, keyed uniquely by dedup key.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailbridge/internal/model"
)

var (
	// ErrDuplicateKey is returned by Save when the dedup key already
	// has an entry. The unique constraint is the source of truth under
	// races; callers treat this as already-processed.
	ErrDuplicateKey = errors.New("ledger: duplicate dedup key")

	// ErrNotFound is returned by RecordOutcome for an unknown entry ID.
	// Given insert-then-update ordering within one cycle this indicates
	// an invariant violation, not a recoverable condition.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Ledger stores processed-message entries in a local SQLite database.
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (or creates) the ledger database at dbPath, enables WAL
// mode, and applies any pending schema migrations. Migration is
// idempotent and safe to run on every startup.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *Ledger) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := l.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = l.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// IsProcessed reports whether a dedup key already has a ledger entry.
// It fails open: a query error is logged and reported as "not
// processed", since the worst outcome of a false negative is one
// duplicate delivery attempt, caught again by Save's constraint.
func (l *Ledger) IsProcessed(ctx context.Context, dedupKey string) bool {
	var count int
	err := l.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE dedup_key = ?", dedupKey,
	)
	if err != nil {
		l.logger.Error("dedup existence check failed",
			"dedup_key", dedupKey, "error", err)
		return false
	}
	return count > 0
}

// Save inserts a new entry and returns its assigned ID. A dedup-key
// collision returns ErrDuplicateKey.
func (l *Ledger) Save(ctx context.Context, entry model.LedgerEntry) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (
			dedup_key, subject, sender, recipient, body,
			has_images, image_count,
			received_at, processed_at,
			delivery_status, delivery_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DedupKey, entry.Subject, entry.Sender, entry.Recipient, entry.Body,
		boolToInt(entry.HasImages), entry.ImageCount,
		entry.ReceivedAt.UTC(), entry.ProcessedAt.UTC(),
		string(entry.DeliveryStatus), entry.DeliveryError,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("saving %q: %w", entry.DedupKey, ErrDuplicateKey)
		}
		return 0, fmt.Errorf("saving entry %q: %w", entry.DedupKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}

	l.logger.Info("message saved to ledger",
		"id", id, "subject", entry.Subject, "images", entry.ImageCount)
	return id, nil
}

// RecordOutcome applies the delivery outcome to an entry: status,
// delivered-at timestamp on success, error text on failure. It is the
// entry's single post-insert mutation.
func (l *Ledger) RecordOutcome(ctx context.Context, id int64, success bool, errText string) error {
	status := model.DeliverySent
	var deliveredAt any = time.Now().UTC()
	if !success {
		status = model.DeliveryFailed
		deliveredAt = nil
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = ?, delivered_at = ?, delivery_error = ?
		WHERE id = ?`,
		string(status), deliveredAt, errText, id,
	)
	if err != nil {
		return fmt.Errorf("recording outcome for entry %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("recording outcome for entry %d: %w", id, ErrNotFound)
	}

	l.logger.Info("delivery outcome recorded", "id", id, "status", status)
	return nil
}

// GetByDedupKey retrieves a single entry, or ErrNotFound.
func (l *Ledger) GetByDedupKey(ctx context.Context, dedupKey string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := l.db.GetContext(ctx, &entry,
		"SELECT * FROM messages WHERE dedup_key = ?", dedupKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry %q: %w", dedupKey, err)
	}
	return &entry, nil
}

// Count returns the total number of ledger entries.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages"); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// isUniqueViolation detects SQLite unique-constraint failures from the
// modernc driver, which surfaces them as textual errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
