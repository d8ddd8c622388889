package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")

	s, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.AppendSwitch(ctx, SwitchEvent{Trigger: "cursor", Target: "default_latin", Path: "primary", OK: true}); err != nil {
		t.Fatalf("AppendSwitch failed: %v", err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	events, err := s.RecentSwitches(ctx, Query{})
	if err != nil {
		t.Fatalf("RecentSwitches failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event after reopen, got %d", len(events))
	}
}

// =============================================================================
// Switch events
// =============================================================================

func TestAppendAndRecentSwitches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now().Add(-time.Minute)
	events := []SwitchEvent{
		{Timestamp: base, EditorID: "ed-1", Trigger: "cursor", Language: "JAVA", Bucket: "java",
			Kind: "doc_comment", Target: "default_native", Resolved: "搜狗拼音", Role: "native",
			Path: "primary", OK: true, Duration: 3 * time.Millisecond},
		{Timestamp: base.Add(time.Second), EditorID: "ed-1", Trigger: "cursor", Kind: "code",
			Target: "default_latin", Resolved: "ABC", Role: "latin", Path: "cache", OK: true},
		{Timestamp: base.Add(2 * time.Second), EditorID: "ed-2", Trigger: "leave",
			Target: "default_native", Resolved: "搜狗拼音", Role: "native", Path: "failed",
			Error: "input source not found"},
	}
	for _, e := range events {
		id, err := s.AppendSwitch(ctx, e)
		if err != nil {
			t.Fatalf("AppendSwitch failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("expected positive id, got %d", id)
		}
	}

	got, err := s.RecentSwitches(ctx, Query{})
	if err != nil {
		t.Fatalf("RecentSwitches failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Trigger != "leave" || got[2].Kind != "doc_comment" {
		t.Errorf("events not ordered newest first: %+v", got)
	}
	if got[2].Resolved != "搜狗拼音" || got[2].Duration != 3*time.Millisecond || !got[2].OK {
		t.Errorf("round trip mismatch: %+v", got[2])
	}
	if got[0].OK || got[0].Error == "" {
		t.Errorf("failure not preserved: %+v", got[0])
	}

	byEditor, err := s.RecentSwitches(ctx, Query{EditorID: "ed-1"})
	if err != nil {
		t.Fatalf("RecentSwitches(editor) failed: %v", err)
	}
	if len(byEditor) != 2 {
		t.Errorf("expected 2 events for ed-1, got %d", len(byEditor))
	}

	byPath, err := s.RecentSwitches(ctx, Query{Path: "cache"})
	if err != nil {
		t.Fatalf("RecentSwitches(path) failed: %v", err)
	}
	if len(byPath) != 1 || byPath[0].Resolved != "ABC" {
		t.Errorf("unexpected path filter result: %+v", byPath)
	}

	limited, err := s.RecentSwitches(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("RecentSwitches(limit) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 event with limit, got %d", len(limited))
	}

	since, err := s.RecentSwitches(ctx, Query{Since: base.Add(1500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("RecentSwitches(since) failed: %v", err)
	}
	if len(since) != 1 {
		t.Errorf("expected 1 event since cutoff, got %d", len(since))
	}
}

func TestCountByPathAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	now := time.Now()
	for _, e := range []SwitchEvent{
		{Timestamp: old, Trigger: "cursor", Target: "default_latin", Path: "primary", OK: true},
		{Timestamp: now, Trigger: "cursor", Target: "default_latin", Path: "primary", OK: true},
		{Timestamp: now, Trigger: "cursor", Target: "default_latin", Path: "cache", OK: true},
	} {
		if _, err := s.AppendSwitch(ctx, e); err != nil {
			t.Fatalf("AppendSwitch failed: %v", err)
		}
	}

	counts, err := s.CountByPath(ctx, time.Time{})
	if err != nil {
		t.Fatalf("CountByPath failed: %v", err)
	}
	want := map[string]int64{"cache": 1, "primary": 2}
	for _, c := range counts {
		if want[c.Path] != c.Count {
			t.Errorf("path %s: expected %d, got %d", c.Path, want[c.Path], c.Count)
		}
	}

	removed, err := s.PruneBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned event, got %d", removed)
	}
}

// =============================================================================
// Config snapshots
// =============================================================================

func TestConfigSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.RecordConfig(ctx, ConfigSnapshot{
		Version: 3, Path: "/tmp/config.toml", ConfigData: "version = 3", Reason: "startup", Accepted: true,
	}); err != nil {
		t.Fatalf("RecordConfig failed: %v", err)
	}
	if _, err := s.RecordConfig(ctx, ConfigSnapshot{
		Version: 3, Path: "/tmp/config.toml", ConfigData: "garbage", Reason: "reload",
		Error: "parse error",
	}); err != nil {
		t.Fatalf("RecordConfig failed: %v", err)
	}

	history, err := s.ConfigHistory(ctx, 10)
	if err != nil {
		t.Fatalf("ConfigHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(history))
	}
	if history[0].Reason != "reload" || history[0].Accepted || history[0].Error != "parse error" {
		t.Errorf("unexpected newest snapshot: %+v", history[0])
	}
	if len(history[1].ConfigHash) != 64 {
		t.Errorf("expected hex sha256, got %q", history[1].ConfigHash)
	}
	if history[0].ConfigHash == history[1].ConfigHash {
		t.Error("different data should hash differently")
	}
}

// =============================================================================
// Migrations
// =============================================================================

func TestMigrationStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	status, err := GetMigrationStatus(ctx, s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("expected fully migrated, got %d of %d", status.CurrentVersion, status.LatestVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}

	if err := RollbackMigration(ctx, s.DB()); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	status, err = GetMigrationStatus(ctx, s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion-1 || len(status.Pending) != 1 {
		t.Errorf("unexpected status after rollback: %+v", status)
	}

	if err := MigrateDB(ctx, s.DB()); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}
	if _, err := s.ConfigHistory(ctx, 1); err != nil {
		t.Errorf("config_snapshots should exist after re-migrate: %v", err)
	}
}
