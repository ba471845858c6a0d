package storage

import (
	"context"
	"testing"
	"time"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied migrations = %v, want 2 entries", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestTablesAndIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"settings", "tags", "searches", "conversations", "messages", "jobs", "embeddings"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count); err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", name, err)
		}
		if count != 1 {
			t.Errorf("table %q not found", name)
		}
	}
	for _, idx := range []string{"idx_tags_timestamp", "idx_searches_timestamp", "idx_conversations_updated", "idx_jobs_claim"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_jobs_embeddings.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
	if _, err := parseMigrationVersion("jobs.sql"); err == nil {
		t.Error("expected error for filename without version")
	}
}

func TestNewIDShape(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewID("conv", now)
	want := "conv_1700000000123_"
	if len(id) != len(want)+9 || id[:len(want)] != want {
		t.Errorf("NewID = %q, want prefix %q and 9 random chars", id, want)
	}
	if NewID("conv", now) == id {
		t.Error("NewID returned the same id twice")
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-claim-1", Type: "embed_history", PayloadJSON: `{"text":"rust"}`}
	if err := s.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"embed_history"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"text":"rust"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}

	again, err := s.ClaimNextJob(ctx, []string{"embed_history"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_TypeFilterAndRunAfter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(ctx, Job{ID: "other", Type: "other", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, Job{ID: "later", Type: "embed_history", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"embed_history"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(ctx, Job{ID: "j-done", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j-done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, err := s.GetJob(ctx, "j-done")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if err := s.CompleteJob(ctx, "missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(ctx, Job{ID: "j-fail", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	before := time.Now().UTC()
	if err := s.FailJob(ctx, "j-fail", "first"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob(ctx, "j-fail")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "first" {
		t.Errorf("after first failure: status=%q attempts=%d last_error=%q", j.Status, j.Attempts, j.LastError)
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}

	if err := s.FailJob(ctx, "j-fail", "second"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ = s.GetJob(ctx, "j-fail")
	if j.Status != "failed" {
		t.Errorf("status = %q, want failed", j.Status)
	}
}
