// Package journal records every released gesture and manual rotation.
package journal

import (
	"context"
	"fmt"
	"strings"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// DefaultRecentLimit is used when Recent is called without a limit.
const (
	DefaultRecentLimit = 20
	maxRecentLimit     = 500
)

// Open selects a store from dsn: "" keeps nothing, a postgres:// or
// postgresql:// URL uses Postgres, anything else is a SQLite file path.
func Open(ctx context.Context, dsn string) (ports.Journal, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return Discard{}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(context.Context, domain.CommandRecord) error { return nil }

func (Discard) Recent(context.Context, int) ([]domain.CommandRecord, error) { return nil, nil }

func (Discard) Close() error { return nil }

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

func validate(record domain.CommandRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("command id is required")
	}
	if record.Source == "" {
		return fmt.Errorf("command source is required")
	}
	return nil
}
