package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbridge/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(
		filepath.Join(t.TempDir(), "ledger.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testEntry(dedupKey string) model.LedgerEntry {
	return model.NewLedgerEntry(&model.NormalizedMessage{
		SeqNum:     1,
		DedupKey:   dedupKey,
		Subject:    "Hello",
		Sender:     "alice@example.com",
		Recipient:  "bob@example.com",
		Body:       "hi",
		ReceivedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})
}

func TestSaveAndGet(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Save(ctx, testEntry("<m1@example.com>"))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := l.GetByDedupKey(ctx, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, model.DeliveryPending, got.DeliveryStatus)
	assert.Nil(t, got.DeliveredAt)
	assert.False(t, got.HasImages)
}

func TestSaveDuplicateKey(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Save(ctx, testEntry("<dup@example.com>"))
	require.NoError(t, err)

	_, err = l.Save(ctx, testEntry("<dup@example.com>"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	count, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIsProcessed(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	assert.False(t, l.IsProcessed(ctx, "<new@example.com>"))

	_, err := l.Save(ctx, testEntry("<new@example.com>"))
	require.NoError(t, err)

	assert.True(t, l.IsProcessed(ctx, "<new@example.com>"))
	assert.False(t, l.IsProcessed(ctx, "<other@example.com>"))
}

func TestRecordOutcomeSuccess(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Save(ctx, testEntry("<sent@example.com>"))
	require.NoError(t, err)

	require.NoError(t, l.RecordOutcome(ctx, id, true, ""))

	got, err := l.GetByDedupKey(ctx, "<sent@example.com>")
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, got.DeliveryStatus)
	require.NotNil(t, got.DeliveredAt)
	assert.Empty(t, got.DeliveryError)
}

func TestRecordOutcomeFailure(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Save(ctx, testEntry("<failed@example.com>"))
	require.NoError(t, err)

	require.NoError(t, l.RecordOutcome(ctx, id, false, "chat not found"))

	got, err := l.GetByDedupKey(ctx, "<failed@example.com>")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, got.DeliveryStatus)
	assert.Nil(t, got.DeliveredAt)
	assert.Equal(t, "chat not found", got.DeliveryError)
}

func TestRecordOutcomeUnknownID(t *testing.T) {
	l := openTestLedger(t)

	err := l.RecordOutcome(context.Background(), 999, true, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByDedupKeyNotFound(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.GetByDedupKey(context.Background(), "<missing@example.com>")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := Open(path, logger)
	require.NoError(t, err)
	_, err = l.Save(context.Background(), testEntry("<keep@example.com>"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopening must not re-apply the schema or lose data.
	l, err = Open(path, logger)
	require.NoError(t, err)
	defer l.Close()

	count, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, l.IsProcessed(context.Background(), "<keep@example.com>"))
}
