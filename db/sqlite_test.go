package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "predictions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{
			PredictionID: "p1", RequestID: "r1", Input: json.RawMessage(`{"sqft":2000}`),
			Price: 335720, IntervalLower: 286720, IntervalUpper: 384720,
			ModelVersion: "linreg-2024.10.1", PreprocessorVersion: "prep-2024.10.1",
			CreatedAt: base,
		},
		{
			PredictionID: "p2", RequestID: "r1", Input: json.RawMessage(`{"sqft":100}`),
			ErrorKind: "prediction_error", CreatedAt: base.Add(time.Second),
		},
	}
	if err := j.Record(ctx, entries); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].PredictionID != "p2" || got[1].PredictionID != "p1" {
		t.Errorf("unexpected order: %s, %s", got[0].PredictionID, got[1].PredictionID)
	}
	if got[0].ErrorKind != "prediction_error" || got[0].Price != 0 {
		t.Errorf("failed entry stored as %+v", got[0])
	}
	if got[1].Price != 335720 || got[1].ModelVersion != "linreg-2024.10.1" {
		t.Errorf("successful entry stored as %+v", got[1])
	}
	if string(got[1].Input) != `{"sqft":2000}` {
		t.Errorf("input = %s", got[1].Input)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Errorf("created_at = %v, want %v", got[1].CreatedAt, base)
	}
}

func TestJournalRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	var entries []Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, Entry{
			PredictionID: string(rune('a' + i)),
			RequestID:    "r",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := j.Record(ctx, entries); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].PredictionID != "e" || got[1].PredictionID != "d" {
		t.Errorf("unexpected entries %+v", got)
	}

	none, err := j.Recent(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Recent(0) = %v, %v", none, err)
	}
}

func TestJournalRecordEmpty(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Record(context.Background(), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("expected error")
	}
}
