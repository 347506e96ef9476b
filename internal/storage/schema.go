// Package storage provides message and SIM-set persistence using SQLite.
package storage

// Schema definitions for the relay database
const (
	// SchemaV1 is the initial database schema
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	receiver TEXT NOT NULL,
	body TEXT NOT NULL,
	captured_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_captured_at ON messages(captured_at);

CREATE TABLE IF NOT EXISTS sims (
	durable_id TEXT PRIMARY KEY,
	assigned_label TEXT NOT NULL DEFAULT '',
	carrier_name TEXT NOT NULL DEFAULT '',
	slot INTEGER NOT NULL DEFAULT -1,
	subscription_id INTEGER NOT NULL DEFAULT -1,
	detected_number TEXT NOT NULL DEFAULT '',
	last_seen_at INTEGER NOT NULL DEFAULT 0,
	present INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
)

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
}
