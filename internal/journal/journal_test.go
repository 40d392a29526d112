package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

func TestSQLiteStoreRecordAndRecent(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	exerciseJournal(t, store)
}

func TestSQLiteStoreRejectsDuplicateAndInvalid(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	record := sampleRecord("dup", time.Now())
	if err := store.Record(context.Background(), record); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(context.Background(), record); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	if err := store.Record(context.Background(), domain.CommandRecord{Source: domain.CommandSourceVoice}); err == nil {
		t.Fatalf("expected missing id error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Record(ctx, sampleRecord("late", time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Record(context.Background(), sampleRecord("kept", time.Now())); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	records, err := reopened.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 || records[0].ID != "kept" {
		t.Fatalf("unexpected records after reopen: %#v", records)
	}
}

func TestOpenSQLiteAppliesPragmas(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var mode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
	var busy int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 5000 {
		t.Fatalf("expected busy_timeout 5000, got %d", busy)
	}
	var synchronous int
	if err := store.sqlDB.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("synchronous: %v", err)
	}
	if synchronous != 1 {
		t.Fatalf("expected synchronous NORMAL (1), got %d", synchronous)
	}
}

func TestOpenSelectsStoreByDSN(t *testing.T) {
	t.Parallel()

	journal, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open discard: %v", err)
	}
	if _, ok := journal.(Discard); !ok {
		t.Fatalf("expected Discard for empty dsn, got %T", journal)
	}
	if err := journal.Record(context.Background(), sampleRecord("x", time.Now())); err != nil {
		t.Fatalf("discard record: %v", err)
	}

	journal, err = Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	if _, ok := journal.(*SQLiteStore); !ok {
		t.Fatalf("expected SQLiteStore, got %T", journal)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite("  "); err == nil {
		t.Fatalf("expected path error")
	}
}

func TestPostgresStoreRecordAndRecent(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := OpenPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	record := sampleRecord(uuid.NewString(), time.Now().Add(time.Hour))
	if err := store.Record(ctx, record); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, record); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	records, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 || records[0].ID != record.ID {
		t.Fatalf("expected newest record first, got %#v", records)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	if clampLimit(0) != DefaultRecentLimit || clampLimit(-3) != DefaultRecentLimit {
		t.Fatalf("expected default for non-positive limits")
	}
	if clampLimit(10_000) != maxRecentLimit {
		t.Fatalf("expected clamp to max")
	}
	if clampLimit(7) != 7 {
		t.Fatalf("expected limit passthrough")
	}
}

func exerciseJournal(t *testing.T, journal ports.Journal) {
	t.Helper()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := sampleRecord("older", base)
	newer := sampleRecord("newer", base.Add(time.Minute))
	newer.Intent = domain.IntentNone
	newer.Dispatched = false
	newer.Error = "Comando não reconhecido"
	newer.Source = domain.CommandSourceManual

	for _, record := range []domain.CommandRecord{older, newer} {
		if err := journal.Record(context.Background(), record); err != nil {
			t.Fatalf("record %s: %v", record.ID, err)
		}
	}

	records, err := journal.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].ID != "newer" || records[1].ID != "older" {
		t.Fatalf("expected newest first, got %s, %s", records[0].ID, records[1].ID)
	}

	got := records[1]
	if got.Intent != domain.IntentFootwear || !got.Dispatched || got.Transcript != "girar o calçado" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
	if !got.StartedAt.Equal(older.StartedAt) || !got.EndedAt.Equal(older.EndedAt) {
		t.Fatalf("unexpected timestamps: %+v", got)
	}
	if records[0].Error != "Comando não reconhecido" || records[0].Source != domain.CommandSourceManual {
		t.Fatalf("unexpected second record: %+v", records[0])
	}

	limited, err := journal.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("recent limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "newer" {
		t.Fatalf("unexpected limited result: %#v", limited)
	}
}

func sampleRecord(id string, endedAt time.Time) domain.CommandRecord {
	endedAt = endedAt.UTC().Truncate(time.Millisecond)
	return domain.CommandRecord{
		ID:         id,
		SessionID:  "session-" + id,
		Source:     domain.CommandSourceVoice,
		Transcript: "girar o calçado",
		Corrected:  "girar o calçado",
		Intent:     domain.IntentFootwear,
		Dispatched: true,
		StartedAt:  endedAt.Add(-2 * time.Second),
		EndedAt:    endedAt,
	}
}
