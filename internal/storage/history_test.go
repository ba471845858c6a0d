package storage

import (
	"testing"
	"time"
)

func TestStoreAndRecentTags(t *testing.T) {
	s := openTestStore(t)
	s.SetClock(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Second))

	for _, tag := range []string{"rust", "go", "zig"} {
		if _, err := s.StoreTag(ctx, tag, "thread_theme", "https://news.ycombinator.com/item?id=1"); err != nil {
			t.Fatalf("StoreTag(%q): %v", tag, err)
		}
	}

	recent, err := s.RecentTags(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTags: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].Tag != "zig" || recent[1].Tag != "go" {
		t.Errorf("recent = [%q %q], want [zig go]", recent[0].Tag, recent[1].Tag)
	}
	if !recent[0].Timestamp.After(recent[1].Timestamp) {
		t.Errorf("timestamps not descending: %v, %v", recent[0].Timestamp, recent[1].Timestamp)
	}

	all, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListTags len = %d, want 3", len(all))
	}
}

func TestRecentTags_ZeroAndNegative(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.StoreTag(ctx, "rust", "thread_theme", "a"); err != nil {
		t.Fatalf("StoreTag: %v", err)
	}
	for _, k := range []int{0, -1} {
		got, err := s.RecentTags(ctx, k)
		if err != nil {
			t.Fatalf("RecentTags(%d): %v", k, err)
		}
		if len(got) != 0 {
			t.Errorf("RecentTags(%d) len = %d, want 0", k, len(got))
		}
	}
}

func TestRecentTags_SameTimestampNewestInsertFirst(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	s.StoreTag(ctx, "first", "t", "a")
	s.StoreTag(ctx, "second", "t", "a")

	got, err := s.RecentTags(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTags: %v", err)
	}
	if got[0].Tag != "second" {
		t.Errorf("RecentTags(1) = %q, want second", got[0].Tag)
	}
}

func TestClearTags(t *testing.T) {
	s := openTestStore(t)
	s.StoreTag(ctx, "rust", "t", "a")
	if err := s.ClearTags(ctx); err != nil {
		t.Fatalf("ClearTags: %v", err)
	}
	got, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d after clear, want 0", len(got))
	}
}

func TestSearchHistory(t *testing.T) {
	s := openTestStore(t)
	s.SetClock(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute))

	for _, q := range []string{"rust async", "llm agents", "sqlite wal"} {
		if _, err := s.StoreSearch(ctx, q); err != nil {
			t.Fatalf("StoreSearch(%q): %v", q, err)
		}
	}

	recent, err := s.RecentSearches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSearches: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].Query != "sqlite wal" {
		t.Errorf("newest = %q, want %q", recent[0].Query, "sqlite wal")
	}

	if err := s.ClearSearches(ctx); err != nil {
		t.Fatalf("ClearSearches: %v", err)
	}
	all, _ := s.ListSearches(ctx)
	if len(all) != 0 {
		t.Errorf("len = %d after clear, want 0", len(all))
	}
}
