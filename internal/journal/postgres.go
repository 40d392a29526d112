package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"modsy/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS command_journal (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	transcript  TEXT NOT NULL DEFAULT '',
	corrected   TEXT NOT NULL DEFAULT '',
	intent      TEXT NOT NULL DEFAULT '',
	dispatched  BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS command_journal_ended_at ON command_journal (ended_at DESC);
`

// PostgresStore persists the journal in a shared Postgres database.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects a pool and makes sure the journal table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an existing pool. The table must already exist.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, record domain.CommandRecord) error {
	if err := validate(record); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO command_journal (
			id, session_id, source, transcript, corrected, intent, dispatched, error, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID,
		record.SessionID,
		record.Source,
		record.Transcript,
		record.Corrected,
		string(record.Intent),
		record.Dispatched,
		record.Error,
		record.StartedAt.UTC(),
		record.EndedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, source, transcript, corrected, intent, dispatched, error, started_at, ended_at
		FROM command_journal
		ORDER BY ended_at DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var (
			record domain.CommandRecord
			intent string
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
			&record.StartedAt,
			&record.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		record.Intent = domain.Intent(intent)
		record.StartedAt = record.StartedAt.UTC()
		record.EndedAt = record.EndedAt.UTC()
		out = append(out, record)
	}
	return out, rows.Err()
}
