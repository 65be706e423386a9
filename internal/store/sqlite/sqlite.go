package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/workmesh/realtime/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	identity   TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	position   INTEGER NOT NULL,
	id         TEXT    NOT NULL,
	title      TEXT    NOT NULL DEFAULT '',
	body       TEXT    NOT NULL DEFAULT '',
	room       TEXT    NOT NULL DEFAULT '',
	sender_id  TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	is_read    BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (identity, kind, position)
);
CREATE INDEX IF NOT EXISTS idx_notifications_identity ON notifications (identity);
`

// SQLiteStore implements store.SnapshotStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (and if needed creates) the snapshot database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup opens the database and runs an extra setup function after the
// schema is applied. Useful for tests seeding rows directly.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot for (identity, kind) in one tx.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, identity string, kind store.Kind, items []store.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE identity = ? AND kind = ?`, identity, string(kind)); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	insert := `
		INSERT INTO notifications (identity, kind, position, id, title, body, room, sender_id, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, n := range items {
		if _, err := tx.ExecContext(ctx, insert,
			identity, string(kind), i, n.ID, n.Title, n.Body, n.Room, n.SenderID, n.CreatedAt.Unix(), n.IsRead); err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot in insertion order.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, identity string, kind store.Kind) ([]store.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, room, sender_id, created_at, is_read
		FROM notifications
		WHERE identity = ? AND kind = ?
		ORDER BY position ASC
	`, identity, string(kind))
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var items []store.Notification
	for rows.Next() {
		var n store.Notification
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Room, &n.SenderID, &createdAt, &n.IsRead); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return items, nil
}

// DeleteSnapshots removes every snapshot for an identity.
func (s *SQLiteStore) DeleteSnapshots(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}
