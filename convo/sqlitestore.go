package convo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_identity
	ON conversation_messages (identity, seq);
`

// SQLiteStore persists logs in a single SQLite database. The driver is
// modernc.org/sqlite (pure Go), registered by the caller via a blank
// import.
type SQLiteStore struct {
	db  *sql.DB
	max int
}

// SQLiteDSN builds a DSN with WAL and a busy timeout so concurrent
// readers don't trip over the writer.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", strings.TrimSpace(path))
}

func OpenSQLiteStore(dsn string, maxMessages int) (*SQLiteStore, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping conversation db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}
	return &SQLiteStore{db: db, max: maxMessages}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM conversation_messages
		 WHERE identity = ? ORDER BY seq DESC LIMIT ?`,
		identity, limit)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", identity, err)
	}
	defer rows.Close()

	var reversed []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Role, &e.Content); err != nil {
			return nil, err
		}
		reversed = append(reversed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Entry, len(reversed))
	for i, e := range reversed {
		out[len(reversed)-1-i] = e
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, identity string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append conversation %s: %w", identity, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (identity, role, content, created_at)
			 VALUES (?, ?, ?, ?)`,
			identity, e.Role, e.Content, now); err != nil {
			return fmt.Errorf("append conversation %s: %w", identity, err)
		}
	}

	// FIFO eviction beyond the bounded window.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_messages
		 WHERE identity = ? AND seq NOT IN (
			SELECT seq FROM conversation_messages
			WHERE identity = ? ORDER BY seq DESC LIMIT ?
		 )`,
		identity, identity, s.max); err != nil {
		return fmt.Errorf("trim conversation %s: %w", identity, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context, identity string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("clear conversation %s: %w", identity, err)
	}
	return nil
}
