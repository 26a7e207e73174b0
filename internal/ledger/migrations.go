package ledger

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	dedup_key       TEXT NOT NULL UNIQUE,
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	recipient       TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	has_images      INTEGER NOT NULL DEFAULT 0 CHECK(has_images IN (0, 1)),
	image_count     INTEGER NOT NULL DEFAULT 0,
	received_at     DATETIME NOT NULL,
	processed_at    DATETIME NOT NULL,
	delivery_status TEXT NOT NULL DEFAULT 'pending'
		CHECK(delivery_status IN ('pending', 'sent', 'failed')),
	delivered_at    DATETIME,
	delivery_error  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_processed_at ON messages(processed_at);
CREATE INDEX IF NOT EXISTS idx_messages_delivery_status ON messages(delivery_status);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
