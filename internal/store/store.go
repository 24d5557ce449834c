// Package store keeps the history of sync runs in SQLite.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// timeLayout is how timestamps are stored: UTC, sortable as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Store is the run-history database.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// isSQLiteError reports whether err wraps a sqlite3.Error whose message
// contains substr. Both the value and the pointer form are recognised.
func isSQLiteError(err error, substr string) bool {
	var valErr sqlite3.Error
	if errors.As(err, &valErr) {
		return strings.Contains(valErr.Error(), substr)
	}
	var ptrErr *sqlite3.Error
	if errors.As(err, &ptrErr) && ptrErr != nil {
		return strings.Contains(ptrErr.Error(), substr)
	}
	return false
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, now: time.Now}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates missing tables. It is safe to call repeatedly.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryInChunks runs an IN-query over ids in chunks that stay below
// SQLite's parameter limit. queryTemplate holds one %s for the placeholders.
func queryInChunks[T any](db *sql.DB, ids []T, queryTemplate string, fn func(*sql.Rows) error) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		chunk := ids[i:min(i+chunkSize, len(ids))]

		args := make([]any, len(chunk))
		for j, id := range chunk {
			args[j] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := db.Query(fmt.Sprintf(queryTemplate, placeholders), args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarises the history database.
type Stats struct {
	Runs         int64
	FailedRuns   int64
	TopicRows    int64
	DatabaseSize int64
}

// GetStats counts runs. Tables missing from an older database count as
// empty.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM sync_runs", &stats.Runs},
		{"SELECT COUNT(*) FROM sync_runs WHERE status = 'failed'", &stats.FailedRuns},
		{"SELECT COUNT(*) FROM run_topics", &stats.TopicRows},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) sql.NullTime {
	if !s.Valid {
		return sql.NullTime{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
