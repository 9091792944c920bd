package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the messaging schema. Idempotent CREATE TABLE / CREATE
// INDEX statements. listing_id is stored as an empty string rather than NULL
// so the uniqueness index covers generic conversations too (SQLite treats
// NULLs as distinct in unique indexes).
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL DEFAULT '',
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			last_message_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		// One conversation per (listing, unordered pair). Participants are
		// normalized a < b before they reach the store.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_triple
			ON conversations(listing_id, participant_a, participant_b);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			client_ref TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS typing_states (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			is_typing BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);`,
		// Read-only reference tables owned by the identity and listing
		// systems; populated externally.
		`CREATE TABLE IF NOT EXISTS parties (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_order ON messages(conversation_id, created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(recipient_id, is_read);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
