package autonomy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"anima/internal/intent"
)

func TestWriterAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explain.jsonl")
	w := NewWriter(path)
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := Record{
			Time:        base.Add(time.Duration(i) * time.Minute),
			Decision:    DecisionInfo{Action: "idle", Reason: "nothing ready"},
			Observation: Observation{PainScore: 0.1 * float64(i)},
		}
		if err := w.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("file has %d lines, want 3", len(lines))
	}

	records, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if !records[2].Time.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("last record time = %v, want %v", records[2].Time, base.Add(2*time.Minute))
	}
}

func TestWriterMigratesLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explain.jsonl")
	legacy := `[
  {"time":"2024-01-01T00:00:00Z","decision":{"action":"idle","reason":"old entry"},"observation":{"pain_score":0,"pressure_sources":[],"recent_actions":[]}},
  {"time":"2024-01-01T00:01:00Z","decision":{"action":"act","reason":"older entry"},"observation":{"pain_score":0.2,"pressure_sources":["ERRORS"],"recent_actions":[]}}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	w := NewWriter(path)
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	rec := Record{
		Time:     time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC),
		Decision: DecisionInfo{Action: "idle", Reason: "new entry"},
	}
	if err := w.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records after migration, want 3", len(records))
	}
	if records[0].Decision.Reason != "old entry" {
		t.Errorf("first record = %+v, want the migrated legacy entry", records[0].Decision)
	}
	if records[2].Decision.Reason != "new entry" {
		t.Errorf("last record = %+v, want the appended entry", records[2].Decision)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		t.Error("file is still a JSON array after migration")
	}
}

func TestReadRecordsLegacyArrayWithoutWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explain.jsonl")
	legacy := `[{"time":"2024-01-01T00:00:00Z","decision":{"action":"refused","reason":"canon_violation"},"observation":{"pain_score":0,"pressure_sources":[],"recent_actions":[]}}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	records, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 1 || records[0].Decision.Action != "refused" {
		t.Errorf("records = %+v, want the single refused entry", records)
	}
}

func TestReadRecordsMissingFile(t *testing.T) {
	records, err := ReadRecords(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if records != nil {
		t.Errorf("records = %+v, want nil for a missing file", records)
	}
}

func TestRecordRoundTripsIntent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explain.jsonl")
	w := NewWriter(path)
	t.Cleanup(func() { w.Close() })

	in := intent.New(intent.KindMaintain, "stabilize degraded operation", "observer", 0.9)
	rec := Record{
		Time:     time.Now().UTC(),
		Decision: DecisionInfo{Action: "act", Reason: "survival override", Intent: in},
	}
	if err := w.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := ReadRecords(path)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	got := records[0].Decision.Intent
	if got == nil || got.ID != in.ID || got.Kind != intent.KindMaintain || got.Priority != in.Priority {
		t.Errorf("intent = %+v, want %+v", got, in)
	}
}
