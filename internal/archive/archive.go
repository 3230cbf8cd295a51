// Package archive persists sync log entries in an embedded SQLite database
// so they can be inspected after the process that produced them exits.
//
// The archive is opt-in. The in-memory sink stays the source of truth for
// the running process; the archive only receives copies of entries.
//
// Layout:
//   - sync_entries: one row per completed cycle
//   - sync_diffs: one row per data type per cycle, the full diff as JSON
//
// The database runs in WAL mode so the CLI can read while a daemon writes.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/storesync/storesync/internal/diff"
	"github.com/storesync/storesync/internal/synclog"
)

// ErrNotFound is returned when an entry id is not archived.
var ErrNotFound = errors.New("entry not found")

// DB wraps the archive database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the archive at path and initializes its
// schema. The caller must call Close.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	// Connection-scoped pragmas go in the DSN so every pooled connection
	// gets them.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the archive tables if they don't exist. It is
// idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the archive tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_entries (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,  -- epoch ms
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		total_changes INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_diffs (
		entry_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		data_type TEXT NOT NULL,
		has_changes INTEGER NOT NULL,
		payload TEXT NOT NULL,  -- JSON SyncDiff
		PRIMARY KEY (entry_id, position),
		FOREIGN KEY (entry_id) REFERENCES sync_entries(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_entries_store_time ON sync_entries(store_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_entries_time ON sync_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_diffs_type ON sync_diffs(data_type, has_changes);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Append stores an entry and its diffs. Appending an id twice replaces the
// earlier copy.
func (db *DB) Append(e synclog.Entry) error {
	return db.AppendContext(context.Background(), e)
}

// AppendContext stores an entry with context support.
func (db *DB) AppendContext(ctx context.Context, e synclog.Entry) error {
	if e.ID == "" {
		return errors.New("invalid entry: missing id")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_entries WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("failed to replace entry %s: %w", e.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sync_entries (id, store_id, timestamp, duration_ms, status, error, total_changes)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.StoreID, e.Timestamp, e.Duration, string(e.Status), e.Error, e.TotalChanges)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}

	for i, d := range e.Diffs {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal %s diff: %w", d.Type, err)
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_diffs (entry_id, position, data_type, has_changes, payload)
		VALUES (?, ?, ?, ?, ?)
		`, e.ID, i, d.Type, boolToInt(d.HasChanges), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert %s diff: %w", d.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Filter configures List.
type Filter struct {
	// StoreID restricts results to one tenant (empty = all)
	StoreID string
	// Since excludes entries older than this (zero = no bound)
	Since time.Time
	// Until excludes entries newer than this (zero = no bound)
	Until time.Time
	// ChangedType keeps only entries where this data type changed
	ChangedType string
	// Status filters by outcome (empty = all)
	Status synclog.Status
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List returns archived entries matching filter, newest first.
func (db *DB) List(filter Filter) ([]synclog.Entry, error) {
	return db.ListContext(context.Background(), filter)
}

// ListContext returns archived entries with context support.
func (db *DB) ListContext(ctx context.Context, filter Filter) ([]synclog.Entry, error) {
	var conditions []string
	var args []interface{}

	if filter.StoreID != "" {
		conditions = append(conditions, "e.store_id = ?")
		args = append(args, filter.StoreID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "e.timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "e.timestamp <= ?")
		args = append(args, filter.Until.UnixMilli())
	}
	if filter.Status != "" {
		conditions = append(conditions, "e.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ChangedType != "" {
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM sync_diffs d WHERE d.entry_id = e.id AND d.data_type = ? AND d.has_changes = 1)")
		args = append(args, filter.ChangedType)
	}

	query := `
	SELECT e.id, e.store_id, e.timestamp, e.duration_ms, e.status, e.error, e.total_changes
	FROM sync_entries e
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY e.timestamp DESC, e.rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	entries, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range entries {
		diffs, err := db.diffsContext(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Diffs = diffs
	}
	return entries, nil
}

// Get returns one archived entry. Returns ErrNotFound if it isn't archived.
func (db *DB) Get(id string) (synclog.Entry, error) {
	return db.GetContext(context.Background(), id)
}

// GetContext returns one archived entry with context support.
func (db *DB) GetContext(ctx context.Context, id string) (synclog.Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, store_id, timestamp, duration_ms, status, error, total_changes
	FROM sync_entries WHERE id = ?
	`, id)
	if err != nil {
		return synclog.Entry{}, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	entries, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return synclog.Entry{}, err
	}
	if len(entries) == 0 {
		return synclog.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e := entries[0]
	if e.Diffs, err = db.diffsContext(ctx, id); err != nil {
		return synclog.Entry{}, err
	}
	return e, nil
}

// Count returns the number of archived entries.
func (db *DB) Count() (int, error) {
	return db.CountContext(context.Background())
}

// CountContext returns the number of archived entries with context support.
func (db *DB) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// Purge deletes entries older than before and returns how many were removed.
func (db *DB) Purge(before time.Time) (int64, error) {
	return db.PurgeContext(context.Background(), before)
}

// PurgeContext deletes old entries with context support.
func (db *DB) PurgeContext(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sync_entries WHERE timestamp < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}
	return n, nil
}

func (db *DB) diffsContext(ctx context.Context, entryID string) ([]diff.SyncDiff, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT payload FROM sync_diffs WHERE entry_id = ? ORDER BY position ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query diffs for %s: %w", entryID, err)
	}
	defer rows.Close()

	diffs := []diff.SyncDiff{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan diff: %w", err)
		}

		var d diff.SyncDiff
		dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
		dec.UseNumber()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diff: %w", err)
		}
		diffs = append(diffs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diffs: %w", err)
	}
	return diffs, nil
}

// scanEntries scans entry rows without their diffs.
func scanEntries(rows *sql.Rows) ([]synclog.Entry, error) {
	var entries []synclog.Entry

	for rows.Next() {
		var e synclog.Entry
		var status string
		err := rows.Scan(&e.ID, &e.StoreID, &e.Timestamp, &e.Duration, &status, &e.Error, &e.TotalChanges)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Status = synclog.Status(status)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
