package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteMirror copies entries into a queryable decisions table.
type SQLiteMirror struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteMirror opens (or creates) the database at path.
func NewSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: open db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit sqlite: wal mode: %w", err)
	}

	m := &SQLiteMirror{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit sqlite: migrate: %w", err)
	}
	return m, nil
}

func (m *SQLiteMirror) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id         TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT '',
			caller     TEXT NOT NULL DEFAULT '',
			tool       TEXT NOT NULL DEFAULT '',
			context    TEXT NOT NULL DEFAULT '{}',
			timestamp  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_entries(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_caller ON audit_entries(caller)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Name implements Mirror.
func (m *SQLiteMirror) Name() string { return "sqlite" }

// Mirror implements Mirror.
func (m *SQLiteMirror) Mirror(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	tool, _ := e.Context["tool"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_entries (id, event_type, status, caller, tool, context, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.Status, e.Caller(), tool, string(raw), e.Timestamp)
	return err
}

// CountByStatus returns the number of mirrored entries per status for the
// given event type.
func (m *SQLiteMirror) CountByStatus(ctx context.Context, eventType string) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM audit_entries WHERE event_type = ? GROUP BY status`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Close implements Mirror.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
