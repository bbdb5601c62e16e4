package usage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Model: "gpt-4o", Task: "order-check", PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		{Timestamp: now, Model: "gpt-4o", Task: "order-check", PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000},
		{Timestamp: now, Model: "gpt-4o-mini", Task: "", PromptTokens: 50, CompletionTokens: 25, TotalTokens: 75},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(sum) != 2 {
		t.Fatalf("got %d models, want 2", len(sum))
	}
	big := sum["gpt-4o"]
	if big.Prompt != 3000 || big.Completion != 1500 || big.Total != 4500 {
		t.Errorf("gpt-4o totals = %+v, want 3000/1500/4500", big)
	}
	small := sum["gpt-4o-mini"]
	if small.Total != 75 {
		t.Errorf("gpt-4o-mini total = %d, want 75", small.Total)
	}
}

func TestSummary_SinceFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), Model: "m", TotalTokens: 10},
		{Timestamp: base, Model: "m", TotalTokens: 20},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum["m"].Total != 20 {
		t.Errorf("total = %d, want only the in-range record's 20", sum["m"].Total)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)

	sum, err := s.Summary(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil {
		t.Fatal("Summary returned nil, want empty map")
	}
	if len(sum) != 0 {
		t.Errorf("got %d groups, want 0", len(sum))
	}
}

func TestRecord_AutoIDAndTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Two records with neither ID nor timestamp must both insert; a
	// duplicated generated ID would violate the primary key.
	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, Record{Model: "m", TotalTokens: 1}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM usage_records WHERE id != '' AND timestamp != ''`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d complete records, want 2", n)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Record(ctx, Record{Model: "m", TotalTokens: 5}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	sum, err := s.Summary(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum["m"].Total != 5 {
		t.Errorf("total = %d, want 5", sum["m"].Total)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/path/usage.db"); err == nil {
		t.Error("Open should fail for an uncreatable path")
	}
}
