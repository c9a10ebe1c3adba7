package storage

import (
	"context"
	"testing"
	"time"

	"meetscribe/internal/config"
	"meetscribe/internal/models"
)

func openTestDB(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewRunStore(db)
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	return store
}

func TestRecordAndListRuns(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	runs := []*models.PipelineRun{
		{ID: "r1", FileName: "standup.wav", State: "rendered", DurationMs: 1200, CreatedAt: base},
		{ID: "r2", FileName: "retro.mp3", State: "failed", FailedStage: "transcribing", ErrorKind: "transcription", Error: "decode", DurationMs: 300, CreatedAt: base.Add(time.Minute)},
	}
	for _, r := range runs {
		if err := store.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun %s: %v", r.ID, err)
		}
	}

	got, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].ID != "r2" || got[0].FailedStage != "transcribing" || got[0].ErrorKind != "transcription" {
		t.Fatalf("unexpected newest run %+v", got[0])
	}
	if got[1].ID != "r1" || got[1].DurationMs != 1200 {
		t.Fatalf("unexpected oldest run %+v", got[1])
	}
}

func TestRecentRunsLimit(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		run := &models.PipelineRun{ID: id, FileName: id + ".wav", State: "rendered", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	got, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" {
		t.Fatalf("unexpected runs %+v", got)
	}
}

func TestRecordRunDuplicateID(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	run := &models.PipelineRun{ID: "dup", FileName: "x.wav", State: "rendered"}
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.RecordRun(ctx, run); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
