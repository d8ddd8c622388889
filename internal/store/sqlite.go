package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLimit caps RecentSwitches when no limit is given.
const DefaultLimit = 50

// Store is the SQLite history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendSwitch records a cycle outcome and returns its id.
func (s *Store) AppendSwitch(ctx context.Context, e SwitchEvent) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO switch_events (timestamp_ns, editor_id, trigger_name, language, bucket, kind, target, resolved, role, path, ok, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixNano(), e.EditorID, e.Trigger, e.Language, e.Bucket, e.Kind,
		e.Target, e.Resolved, e.Role, e.Path, e.OK, e.Error, int64(e.Duration),
	)
	if err != nil {
		return 0, fmt.Errorf("insert switch event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// RecentSwitches returns events matching q, newest first.
func (s *Store) RecentSwitches(ctx context.Context, q Query) ([]SwitchEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.EditorID != "" {
		where = append(where, "editor_id = ?")
		args = append(args, q.EditorID)
	}
	if q.Path != "" {
		where = append(where, "path = ?")
		args = append(args, q.Path)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}

	query := `SELECT id, timestamp_ns, editor_id, trigger_name, language, bucket, kind, target, resolved, role, path, ok, error, duration_ns FROM switch_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query += " ORDER BY timestamp_ns DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query switch events: %w", err)
	}
	defer rows.Close()

	var events []SwitchEvent
	for rows.Next() {
		var (
			e                                                 SwitchEvent
			ts, dur                                           int64
			editor, lang, bucket, kind, resolved, role, errms sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &editor, &e.Trigger, &lang, &bucket, &kind,
			&e.Target, &resolved, &role, &e.Path, &e.OK, &errms, &dur); err != nil {
			return nil, fmt.Errorf("scan switch event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		e.Duration = time.Duration(dur)
		e.EditorID = editor.String
		e.Language = lang.String
		e.Bucket = bucket.String
		e.Kind = kind.String
		e.Resolved = resolved.String
		e.Role = role.String
		e.Error = errms.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByPath returns how many events each switch path has since the
// given time. A zero time counts everything.
func (s *Store) CountByPath(ctx context.Context, since time.Time) ([]PathCount, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COUNT(*) FROM switch_events
		WHERE timestamp_ns >= ?
		GROUP BY path ORDER BY path`, from)
	if err != nil {
		return nil, fmt.Errorf("count switch events: %w", err)
	}
	defer rows.Close()

	var counts []PathCount
	for rows.Next() {
		var pc PathCount
		if err := rows.Scan(&pc.Path, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan path count: %w", err)
		}
		counts = append(counts, pc)
	}
	return counts, rows.Err()
}

// PruneBefore deletes switch events older than cutoff and returns the
// number removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM switch_events WHERE timestamp_ns < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune switch events: %w", err)
	}
	return result.RowsAffected()
}

// RecordConfig stores a configuration snapshot. The hash is computed from
// data.
func (s *Store) RecordConfig(ctx context.Context, c ConfigSnapshot) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	sum := sha256.Sum256([]byte(c.ConfigData))
	c.ConfigHash = hex.EncodeToString(sum[:])

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (created_at, version, path, config_hash, config_data, reason, accepted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CreatedAt.UnixNano(), c.Version, c.Path, c.ConfigHash, c.ConfigData, c.Reason, c.Accepted, c.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("insert config snapshot: %w", err)
	}
	return result.LastInsertId()
}

// ConfigHistory returns the latest configuration snapshots, newest first.
func (s *Store) ConfigHistory(ctx context.Context, limit int) ([]ConfigSnapshot, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, version, path, config_hash, config_data, reason, accepted, error
		FROM config_snapshots ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query config snapshots: %w", err)
	}
	defer rows.Close()

	var out []ConfigSnapshot
	for rows.Next() {
		var (
			c             ConfigSnapshot
			created       int64
			reason, errms sql.NullString
		)
		if err := rows.Scan(&c.ID, &created, &c.Version, &c.Path, &c.ConfigHash, &c.ConfigData,
			&reason, &c.Accepted, &errms); err != nil {
			return nil, fmt.Errorf("scan config snapshot: %w", err)
		}
		c.CreatedAt = time.Unix(0, created)
		c.Reason = reason.String
		c.Error = errms.String
		out = append(out, c)
	}
	return out, rows.Err()
}
