package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"modsy/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS command_journal (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	transcript  TEXT NOT NULL DEFAULT '',
	corrected   TEXT NOT NULL DEFAULT '',
	intent      TEXT NOT NULL DEFAULT '',
	dispatched  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS command_journal_ended_at ON command_journal (ended_at DESC);
`

// ErrDuplicateRecord is returned when a command id is journaled twice.
var ErrDuplicateRecord = errors.New("command already journaled")

// SQLiteStore persists the journal in a local SQLite file.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	// The driver runs each _pragma on every new pool connection.
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, record domain.CommandRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(record); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO command_journal (
		   id, session_id, source, transcript, corrected, intent, dispatched, error, started_at, ended_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		record.Source,
		record.Transcript,
		record.Corrected,
		string(record.Intent),
		record.Dispatched,
		record.Error,
		toMillis(record.StartedAt),
		toMillis(record.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, source, transcript, corrected, intent, dispatched, error, started_at, ended_at
		 FROM command_journal
		 ORDER BY ended_at DESC, rowid DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var (
			record    domain.CommandRecord
			intent    string
			startedAt int64
			endedAt   int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Source,
			&record.Transcript,
			&record.Corrected,
			&intent,
			&record.Dispatched,
			&record.Error,
			&startedAt,
			&endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		record.Intent = domain.Intent(intent)
		record.StartedAt = fromMillis(startedAt)
		record.EndedAt = fromMillis(endedAt)
		out = append(out, record)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
